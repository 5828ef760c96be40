// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gridwatch-io/client-go/internal/logging"
	"github.com/gridwatch-io/client-go/internal/metrics"
	"github.com/gridwatch-io/client-go/session"
)

// SessionSource is what the transport needs from the session manager.
type SessionSource interface {
	// Credential returns the current access credential, false when absent.
	Credential() (string, bool)

	// Refresh exchanges the credential; a negative threshold forces it.
	Refresh(ctx context.Context, minValidity time.Duration) (bool, error)

	// Logout tears the session down after an unrecoverable rejection.
	Logout(ctx context.Context) error
}

var _ SessionSource = (*session.Manager)(nil)

type ctxKey int

const (
	ctxKeyExempt ctxKey = iota
	ctxKeyRetry
)

// WithoutAuth marks a request context credential-exempt: no bearer header is
// attached and a 401 response passes through untouched.
func WithoutAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeyExempt, true)
}

func isExempt(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKeyExempt).(bool)
	return v
}

func markRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeyRetry, true)
}

func isRetry(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKeyRetry).(bool)
	return v
}

// refreshCall is the shared handle for one in-flight credential refresh.
// Every request that hits a 401 while it runs waits on done and shares err.
type refreshCall struct {
	done chan struct{}
	err  error
}

// refreshTimeout bounds the shared refresh exchange. It runs on a detached
// context so one canceled request cannot abort the refresh other requests
// are waiting on.
const refreshTimeout = 30 * time.Second

// Transport is an http.RoundTripper that attaches the session credential
// and, on a 401, runs a single shared refresh and retries the request
// exactly once with the new credential. A failed refresh logs the session
// out and fails the request with ErrSessionExpired.
type Transport struct {
	// Base is the underlying round tripper, http.DefaultTransport if nil.
	Base http.RoundTripper

	sessions SessionSource

	mu       sync.Mutex
	inflight *refreshCall
}

// NewTransport wraps base with credential handling.
func NewTransport(sessions SessionSource, base http.RoundTripper) *Transport {
	return &Transport{Base: base, sessions: sessions}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	exempt := isExempt(ctx)

	out := req.Clone(ctx)
	if !exempt {
		if tok, ok := t.sessions.Credential(); ok {
			out.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := t.base().RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || exempt || isRetry(ctx) {
		return resp, nil
	}

	// The credential was rejected. Join (or start) the shared refresh and
	// retry exactly once with its result.
	_ = resp.Body.Close()

	if rerr := t.refreshShared(ctx); rerr != nil {
		logging.Warn().Err(rerr).Msg("credential refresh after 401 failed, logging out")
		logoutCtx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		_ = t.sessions.Logout(logoutCtx)
		return nil, ErrSessionExpired
	}

	metrics.GatewayAuthRetriesTotal.Inc()
	retry := req.Clone(markRetry(ctx))
	if req.GetBody != nil {
		body, berr := req.GetBody()
		if berr != nil {
			return nil, berr
		}
		retry.Body = body
	}
	if tok, ok := t.sessions.Credential(); ok {
		retry.Header.Set("Authorization", "Bearer "+tok)
	}
	return t.base().RoundTrip(retry)
}

// refreshShared runs at most one concurrent refresh. Latecomers wait for
// the in-flight call and share its outcome.
func (t *Transport) refreshShared(ctx context.Context) error {
	t.mu.Lock()
	if call := t.inflight; call != nil {
		t.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	t.inflight = call
	t.mu.Unlock()

	refreshCtx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	_, call.err = t.sessions.Refresh(refreshCtx, session.ForceRefresh)
	cancel()

	t.mu.Lock()
	t.inflight = nil
	t.mu.Unlock()
	close(call.done)

	return call.err
}
