// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

// Package supervisor runs the client's long-lived services under a suture
// tree: the session manager with its auto-refresh timer on one branch, the
// realtime channels on the other. A crashing channel is restarted with
// backoff without disturbing the session.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/gridwatch-io/client-go/internal/logging"
)

// Config holds supervisor tree settings. Zero values fall back to suture's
// defaults.
type Config struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay, in seconds.
	FailureDecay float64

	// FailureBackoff is how long to wait once the threshold is exceeded.
	FailureBackoff time.Duration

	// ShutdownTimeout bounds graceful service shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns suture's documented defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the client's supervisor hierarchy.
type Tree struct {
	root     *suture.Supervisor
	session  *suture.Supervisor
	channels *suture.Supervisor
	config   Config
}

// NewTree builds the two-branch tree. Events are logged through the
// module's zerolog-backed slog handler.
func NewTree(config Config) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	// The sutureslog hook API is (&Handler{Logger: l}).MustHook(); the
	// handler has a pointer receiver.
	hook := (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook()

	rootSpec := suture.Spec{
		EventHook:        hook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("gridwatch", rootSpec)
	sessionLayer := suture.New("session-layer", childSpec)
	channelLayer := suture.New("channel-layer", childSpec)
	root.Add(sessionLayer)
	root.Add(channelLayer)

	return &Tree{
		root:     root,
		session:  sessionLayer,
		channels: channelLayer,
		config:   config,
	}
}

// Root returns the root supervisor for direct access.
func (t *Tree) Root() *suture.Supervisor { return t.root }

// AddSessionService supervises a session-layer service.
func (t *Tree) AddSessionService(svc suture.Service) suture.ServiceToken {
	return t.session.Add(svc)
}

// AddChannelService supervises a realtime channel service.
func (t *Tree) AddChannelService(svc suture.Service) suture.ServiceToken {
	return t.channels.Add(svc)
}

// RemoveChannelService stops and removes a channel service.
func (t *Tree) RemoveChannelService(token suture.ServiceToken) error {
	return t.channels.Remove(token)
}

// Serve runs the tree and blocks until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine; the channel receives the
// terminal error when the tree stops.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
