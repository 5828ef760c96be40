// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package gridwatch

import (
	"context"

	"github.com/gridwatch-io/client-go/config"
	"github.com/gridwatch-io/client-go/gateway"
	"github.com/gridwatch-io/client-go/internal/logging"
	"github.com/gridwatch-io/client-go/keycloak"
	"github.com/gridwatch-io/client-go/realtime"
	"github.com/gridwatch-io/client-go/session"
	"github.com/gridwatch-io/client-go/supervisor"
)

// Client wires the console client together: the Keycloak-backed session
// manager, the envelope-aware gateway, realtime channels, and the
// supervisor tree that keeps the long-lived pieces running.
type Client struct {
	cfg      *config.Config
	sessions *session.Manager
	gw       *gateway.Client
	tree     *supervisor.Tree
}

// New builds a client from validated configuration.
func New(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	provider, err := keycloak.New(keycloak.Config{
		ServerURL:    cfg.Keycloak.ServerURL,
		Realm:        cfg.Keycloak.Realm,
		ClientID:     cfg.Keycloak.ClientID,
		ClientSecret: cfg.Keycloak.ClientSecret,
		Username:     cfg.Keycloak.Username,
		Password:     cfg.Keycloak.Password,
		Scopes:       cfg.Keycloak.Scopes,
		Timeout:      cfg.Keycloak.Timeout,
	})
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(provider,
		session.WithSuperRole(cfg.Keycloak.SuperRole),
		session.WithRefreshInterval(cfg.Session.RefreshInterval),
		session.WithMinValidity(cfg.Session.MinValidity),
	)

	gw, err := gateway.New(gateway.Config{
		BaseURL:        cfg.Gateway.BaseURL,
		Timeout:        cfg.Gateway.Timeout,
		RateLimit:      cfg.Gateway.RateLimit,
		RateBurst:      cfg.Gateway.RateBurst,
		CircuitBreaker: cfg.Gateway.CircuitBreaker,
	}, sessions)
	if err != nil {
		return nil, err
	}

	tree := supervisor.NewTree(supervisor.DefaultConfig())
	tree.AddSessionService(sessions)

	return &Client{
		cfg:      cfg,
		sessions: sessions,
		gw:       gw,
		tree:     tree,
	}, nil
}

// Sessions returns the session manager.
func (c *Client) Sessions() *session.Manager { return c.sessions }

// Gateway returns the backend HTTP client.
func (c *Client) Gateway() *gateway.Client { return c.gw }

// Login establishes the session immediately instead of waiting for the
// supervised service to do it.
func (c *Client) Login(ctx context.Context) (*session.Session, error) {
	return c.sessions.Initialize(ctx)
}

// Logout clears the session and signs out of the identity provider.
func (c *Client) Logout(ctx context.Context) error {
	return c.sessions.Logout(ctx)
}

// HasRole checks role membership on the current session.
func (c *Client) HasRole(role string) bool {
	return c.sessions.HasRole(role)
}

// Channel creates a realtime channel bound to the session's credential.
// The caller owns its lifecycle; use SuperviseChannel to run it under the
// tree instead.
func (c *Client) Channel() *realtime.Conn {
	return realtime.NewConn(c.channelConfig(), c.sessions.Credential)
}

// SuperviseChannel creates a channel and runs it under the supervisor tree.
// The returned stop function removes it from the tree and disconnects.
func (c *Client) SuperviseChannel() (*realtime.Conn, func() error) {
	conn := c.Channel()
	token := c.tree.AddChannelService(conn)
	return conn, func() error { return c.tree.RemoveChannelService(token) }
}

func (c *Client) channelConfig() realtime.Config {
	return realtime.Config{
		URL:                  c.cfg.Realtime.URL,
		RequireAuth:          c.cfg.Realtime.RequireAuth,
		AuthMode:             c.cfg.Realtime.AuthMode,
		ReconnectInterval:    c.cfg.Realtime.ReconnectInterval,
		MaxReconnectAttempts: c.cfg.Realtime.MaxReconnectAttempts,
		HandshakeTimeout:     c.cfg.Realtime.HandshakeTimeout,
		WriteTimeout:         c.cfg.Realtime.WriteTimeout,
		QueueLimit:           c.cfg.Realtime.QueueLimit,
	}
}

// Run serves the supervisor tree until the context is canceled.
func (c *Client) Run(ctx context.Context) error {
	return c.tree.Serve(ctx)
}
