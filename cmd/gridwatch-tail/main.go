// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

// Package main is gridwatch-tail, a headless consumer that logs into the
// console backend, opens the realtime channel, and prints every event it
// receives. It doubles as a connectivity check for a Gridwatch deployment.
//
// Configuration is loaded the same way as the library: gridwatch.yaml (or
// the file named by GRIDWATCH_CONFIG) layered under GRIDWATCH_* environment
// variables.
//
// Usage:
//
//	export GRIDWATCH_KEYCLOAK_USERNAME=gridop
//	export GRIDWATCH_KEYCLOAK_PASSWORD=...
//	gridwatch-tail -types telemetry,alerts
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	gridwatch "github.com/gridwatch-io/client-go"
	"github.com/gridwatch-io/client-go/config"
	"github.com/gridwatch-io/client-go/internal/logging"
	"github.com/gridwatch-io/client-go/realtime"
)

func main() {
	types := flag.String("types", "", "comma-separated event types to print (default: all, raw included)")
	ping := flag.Bool("ping", false, "log in, report the session, and exit")
	flag.Parse()

	if err := run(*types, *ping); err != nil {
		fmt.Fprintln(os.Stderr, "gridwatch-tail:", err)
		os.Exit(1)
	}
}

func run(types string, ping bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	client, err := gridwatch.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := client.Login(ctx)
	if err != nil {
		return err
	}
	logging.Info().
		Str("user", sess.Profile.DisplayName).
		Strs("roles", sess.Roles).
		Msg("logged in")

	if ping {
		return client.Logout(context.Background())
	}

	conn, remove := client.SuperviseChannel()
	defer func() {
		_ = remove()
	}()

	print := func(ev realtime.Event) {
		fmt.Printf("%s\t%s\n", ev.Type, ev.Raw)
	}
	if types == "" {
		// No filter: watch the common event types plus raw frames.
		for _, typ := range []string{"telemetry", "alerts", "message", realtime.TypeRaw} {
			defer conn.On(typ, print)()
		}
	} else {
		for _, typ := range strings.Split(types, ",") {
			if typ = strings.TrimSpace(typ); typ != "" {
				defer conn.On(typ, print)()
			}
		}
	}

	err = client.Run(ctx)
	if ctx.Err() != nil {
		// Normal shutdown on signal.
		return client.Logout(context.Background())
	}
	return err
}
