// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

// Package config defines the client core configuration and its koanf-based
// loader. Precedence is ENV > config file > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/gridwatch-io/client-go/internal/validation"
)

// Realtime authentication modes.
const (
	// AuthModeQuery embeds the credential as a token query parameter when
	// building the channel address.
	AuthModeQuery = "query"

	// AuthModeMessage sends an in-band auth message immediately after the
	// transport opens.
	AuthModeMessage = "message"
)

// Config is the root configuration for the client core.
type Config struct {
	Gateway  GatewayConfig  `koanf:"gateway"`
	Keycloak KeycloakConfig `koanf:"keycloak"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Session  SessionConfig  `koanf:"session"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// GatewayConfig configures the authenticated API client.
type GatewayConfig struct {
	// BaseURL is the API root, e.g. "https://console.example.com/api".
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RateLimit is the client-side request rate in requests per second.
	// Zero disables rate limiting.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`

	// RateBurst is the burst size for the rate limiter.
	RateBurst int `koanf:"rate_burst" validate:"gte=0"`

	// CircuitBreaker enables the circuit breaker around API requests.
	CircuitBreaker bool `koanf:"circuit_breaker"`
}

// KeycloakConfig configures the identity provider adapter.
type KeycloakConfig struct {
	// ServerURL is the Keycloak base URL, e.g. "https://id.example.com".
	ServerURL string `koanf:"server_url" validate:"required,url"`

	// Realm is the Keycloak realm name.
	Realm string `koanf:"realm" validate:"required"`

	// ClientID is the OAuth 2.0 client identifier.
	ClientID string `koanf:"client_id" validate:"required"`

	// ClientSecret is required for confidential clients, empty for public.
	ClientSecret string `koanf:"client_secret"`

	// Username and Password are used for the direct access grant. Leave
	// empty when sessions are seeded from externally obtained tokens.
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// Scopes are the OAuth 2.0 scopes to request.
	Scopes []string `koanf:"scopes"`

	// SuperRole is the realm role that satisfies every role check.
	SuperRole string `koanf:"super_role"`

	// Timeout bounds provider round-trips.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// RealtimeConfig configures the realtime channel.
type RealtimeConfig struct {
	// URL is the websocket endpoint, e.g. "wss://console.example.com/ws".
	URL string `koanf:"url" validate:"required,url"`

	// RequireAuth gates connecting on an initialized session.
	RequireAuth bool `koanf:"require_auth"`

	// AuthMode selects how the credential reaches the channel:
	// "query" (token query parameter) or "message" (in-band auth message).
	AuthMode string `koanf:"auth_mode" validate:"oneof=query message"`

	// ReconnectInterval is the fixed delay between reconnect attempts.
	ReconnectInterval time.Duration `koanf:"reconnect_interval" validate:"gt=0"`

	// MaxReconnectAttempts bounds reconnection after unclean closures.
	MaxReconnectAttempts int `koanf:"max_reconnect_attempts" validate:"gte=0"`

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`

	// WriteTimeout bounds individual transport writes.
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`

	// QueueLimit caps the outbound queue; zero means unbounded.
	QueueLimit int `koanf:"queue_limit" validate:"gte=0"`
}

// SessionConfig configures session lifecycle management.
type SessionConfig struct {
	// RefreshInterval is the period of the recurring auto-refresh timer.
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gt=0"`

	// MinValidity is the remaining-validity threshold below which a
	// scheduled refresh actually exchanges the token.
	MinValidity time.Duration `koanf:"min_validity" validate:"gt=0"`
}

// LoggingConfig configures the logging facade.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			BaseURL:        "",
			Timeout:        30 * time.Second,
			RateLimit:      0, // Disabled by default
			RateBurst:      1,
			CircuitBreaker: false,
		},
		Keycloak: KeycloakConfig{
			ServerURL:    "",
			Realm:        "",
			ClientID:     "",
			ClientSecret: "",
			Scopes:       []string{"openid", "profile", "email"},
			SuperRole:    "admin",
			Timeout:      30 * time.Second,
		},
		Realtime: RealtimeConfig{
			URL:                  "",
			RequireAuth:          true,
			AuthMode:             AuthModeQuery,
			ReconnectInterval:    5 * time.Second,
			MaxReconnectAttempts: 5,
			HandshakeTimeout:     10 * time.Second,
			WriteTimeout:         10 * time.Second,
			QueueLimit:           0, // Unbounded
		},
		Session: SessionConfig{
			RefreshInterval: 5 * time.Minute,
			MinValidity:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
