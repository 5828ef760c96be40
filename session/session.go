// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package session

import (
	"time"
)

// State is the session lifecycle state.
type State string

const (
	// StateIdle means no session exists and no initialization is running.
	StateIdle State = "idle"

	// StateInitializing means a provider handshake is in flight.
	StateInitializing State = "initializing"

	// StateInitialized means a live session exists.
	StateInitialized State = "initialized"

	// StateFailed means the last initialization or refresh failed terminally.
	// Recoverable only through an explicit Reset.
	StateFailed State = "failed"
)

// Profile is the resolved identity of the session owner.
type Profile struct {
	// ID is the subject identifier issued by the provider.
	ID string

	// DisplayName is the human-readable name.
	DisplayName string

	// Locale is the user's preferred locale, e.g. "en" or "zh-TW".
	Locale string
}

// Session represents one authenticated identity-provider session.
//
// At most one non-terminal Session exists per Manager at any time. The
// Manager mutates it in place on refresh (credential fields replace, roles
// may be recomputed); readers always receive deep copies.
type Session struct {
	// AccessToken is the opaque bearer credential for API calls.
	AccessToken string

	// RefreshToken is the opaque credential used to obtain new access tokens.
	RefreshToken string

	// ExpiresAt is when the access token stops being accepted.
	ExpiresAt time.Time

	// RefreshExpiresAt is when the refresh token stops being accepted.
	// Zero when the provider did not report it.
	RefreshExpiresAt time.Time

	// Roles is the resolved realm role set.
	Roles []string

	// Profile is the resolved user profile.
	Profile Profile
}

// TimeLeft returns the remaining validity of the access token.
// Negative when already expired.
func (s *Session) TimeLeft() time.Duration {
	return time.Until(s.ExpiresAt)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	copied := &Session{
		AccessToken:      s.AccessToken,
		RefreshToken:     s.RefreshToken,
		ExpiresAt:        s.ExpiresAt,
		RefreshExpiresAt: s.RefreshExpiresAt,
		Profile:          s.Profile,
	}
	if s.Roles != nil {
		copied.Roles = make([]string, len(s.Roles))
		copy(copied.Roles, s.Roles)
	}
	return copied
}

// HasRole reports whether the session's role set contains role.
// This is plain membership; the Manager layers the super-role rule on top.
func (s *Session) HasRole(role string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}
