// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package session

import (
	"context"
	"time"
)

// Claims is the decoded identity information the core consumes from provider
// tokens. Providers resolve it; the Manager never decodes tokens itself.
type Claims struct {
	// Subject is the provider-issued user identifier.
	Subject string

	// DisplayName is the preferred human-readable name.
	DisplayName string

	// Locale is the user's preferred locale.
	Locale string

	// Roles is the resolved role collection.
	Roles []string

	// ExpiresAt is the access credential expiry.
	ExpiresAt time.Time

	// RefreshExpiresAt is the refresh credential expiry, zero if unknown.
	RefreshExpiresAt time.Time
}

// Result is the outcome shape of a provider handshake or token update.
type Result struct {
	// Authenticated reports whether the provider established a session.
	Authenticated bool

	// AccessToken is the new opaque access credential.
	AccessToken string

	// RefreshToken is the new opaque refresh credential.
	RefreshToken string

	// Claims carries the decoded identity information.
	Claims Claims
}

// Provider is the identity-provider contract. The handshake itself is
// delegated entirely to the implementation; the Manager only consumes the
// Result shape and drives the three operations.
type Provider interface {
	// Initialize performs the provider handshake and returns the session
	// outcome. Called at most once concurrently per Manager.
	Initialize(ctx context.Context) (*Result, error)

	// UpdateToken exchanges the refresh credential for fresh tokens.
	// Implementations wrap ErrSessionInvalid when the provider rejects the
	// session itself rather than the attempt.
	UpdateToken(ctx context.Context, refreshToken string) (*Result, error)

	// Logout performs the provider's external sign-out flow.
	Logout(ctx context.Context, refreshToken string) error
}

// sessionFromResult builds a Session from a provider result.
func sessionFromResult(res *Result) *Session {
	roles := make([]string, len(res.Claims.Roles))
	copy(roles, res.Claims.Roles)
	return &Session{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		ExpiresAt:        res.Claims.ExpiresAt,
		RefreshExpiresAt: res.Claims.RefreshExpiresAt,
		Roles:            roles,
		Profile: Profile{
			ID:          res.Claims.Subject,
			DisplayName: res.Claims.DisplayName,
			Locale:      res.Claims.Locale,
		},
	}
}
