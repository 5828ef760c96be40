// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

// Package gridwatch is the Go client for the Gridwatch industrial telemetry
// console. It bundles the pieces a console frontend or headless consumer
// needs to talk to a Gridwatch backend:
//
//   - session: Keycloak-backed authentication with single-flight
//     initialization, scheduled credential refresh, and role checks.
//   - gateway: an HTTP client that injects the bearer credential, shares a
//     single refresh across concurrent 401s, retries exactly once, and
//     unwraps the backend's {code, message, data} envelope into typed
//     errors and payloads.
//   - realtime: the websocket channel with bounded reconnection, an
//     outbound queue that survives disconnects, and transparent heartbeat
//     handling.
//   - supervisor: a suture tree keeping the session manager and channels
//     alive with restart backoff.
//
// The usual entry point is New with a loaded configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	client, err := gridwatch.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if _, err := client.Login(ctx); err != nil {
//		log.Fatal(err)
//	}
//	conn, stop := client.SuperviseChannel()
//	defer stop()
//	conn.On("telemetry", handleTelemetry)
//	client.Run(ctx)
package gridwatch
