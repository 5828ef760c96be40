// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

/*
Package session brokers a single identity-provider session across many
independent consumers.

Many parts of an embedding application each want "the session", but provider
initialization and credential refresh must happen exactly once per process.
The Manager guarantees that with a single-flight initialization handle and a
fan-out subscriber list: concurrent Initialize callers share one provider
handshake, and every state transition is delivered synchronously to all
current subscribers before the triggering call returns.

Key components:

  - Store: holder of the current Session, its lifecycle state and the
    subscriber list. The Manager is its only writer; everyone else reads
    snapshots.
  - Manager: initialization (single-flight), credential refresh with a
    remaining-validity threshold, recurring auto-refresh timer, role checks
    with a configurable super role, and logout.
  - Provider: the identity-provider contract. The keycloak package supplies
    the production implementation; tests use scripted fakes.

Lifecycle states move idle -> initializing -> initialized|failed. The only
ways back are explicit: Reset (failed -> idle) and Logout
(initialized -> idle).

Subscribers receive three event kinds: lifecycle (state changed), credentials
(tokens replaced in place, roles unchanged consumers can skip re-resolution),
and reset (session cleared). Credential strings handed out are snapshots; the
Manager replaces whole credentials on refresh rather than mutating them.

Usage:

	mgr := session.NewManager(provider,
		session.WithSuperRole("admin"),
		session.WithRefreshInterval(5*time.Minute),
	)

	sess, err := mgr.Initialize(ctx)
	if err != nil {
		// state is session.StateFailed; mgr.Reset() allows a retry
	}

	stop := mgr.Subscribe(func(ev session.Event) {
		if ev.Type == session.EventCredentials {
			// pick up ev.Session.AccessToken
		}
	})
	defer stop()
*/
package session
