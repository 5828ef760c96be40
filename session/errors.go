// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package session

import "errors"

// Session errors
var (
	// ErrNotInitialized is returned when an operation needs a live session
	// and none exists.
	ErrNotInitialized = errors.New("session not initialized")

	// ErrNotAuthenticated is returned when the provider handshake completes
	// without establishing an authenticated session.
	ErrNotAuthenticated = errors.New("provider did not authenticate the session")

	// ErrSessionInvalid marks refresh failures caused by the session itself
	// being invalid (revoked or expired refresh credential). Providers wrap
	// this sentinel so the Manager can distinguish terminal refresh failures
	// from transient ones.
	ErrSessionInvalid = errors.New("session is no longer valid")
)
