// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gridwatch-io/client-go/internal/logging"
	"github.com/gridwatch-io/client-go/internal/metrics"
)

const (
	// DefaultRefreshInterval is the period of the auto-refresh timer.
	DefaultRefreshInterval = 5 * time.Minute

	// DefaultMinValidity is the remaining-validity threshold below which a
	// scheduled refresh actually exchanges the credential.
	DefaultMinValidity = 30 * time.Second

	// ForceRefresh passed as minValidity makes Refresh exchange the
	// credential regardless of remaining validity.
	ForceRefresh = -1 * time.Second
)

// initCall is the stored single-flight handle for one provider handshake.
// Concurrent Initialize callers wait on done and share sess/err.
type initCall struct {
	done chan struct{}
	sess *Session
	err  error
}

// refreshCall is the stored single-flight handle for one credential
// exchange. Concurrent Refresh callers wait on done and share the outcome,
// so one refresh token is never presented twice in parallel.
type refreshCall struct {
	done      chan struct{}
	refreshed bool
	err       error
}

// Manager owns session initialization, credential refresh scheduling, role
// resolution, and logout. It is the store's only writer.
type Manager struct {
	provider Provider
	store    *Store

	superRole       string
	refreshInterval time.Duration
	minValidity     time.Duration

	// mu guards the flight slots and the auto-refresh timer slot.
	mu         sync.Mutex
	inflight   *initCall
	refreshing *refreshCall
	timer      *time.Timer
	timerGen   uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithSuperRole sets the role that satisfies every HasRole check.
func WithSuperRole(role string) Option {
	return func(m *Manager) { m.superRole = role }
}

// WithRefreshInterval sets the auto-refresh timer period.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Manager) { m.refreshInterval = d }
}

// WithMinValidity sets the refresh threshold used by the auto-refresh timer.
func WithMinValidity(d time.Duration) Option {
	return func(m *Manager) { m.minValidity = d }
}

// NewManager creates a session manager over the given provider.
func NewManager(provider Provider, opts ...Option) *Manager {
	m := &Manager{
		provider:        provider,
		store:           NewStore(),
		refreshInterval: DefaultRefreshInterval,
		minValidity:     DefaultMinValidity,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the underlying read-only session store.
func (m *Manager) Store() *Store { return m.store }

// State returns the current lifecycle state.
func (m *Manager) State() State { return m.store.State() }

// Session returns a snapshot of the current session, or nil.
func (m *Manager) Session() *Session { return m.store.Session() }

// Err returns the error from the last failed transition, or nil.
func (m *Manager) Err() error { return m.store.Err() }

// Subscribe registers an event callback; the returned handle unregisters it.
func (m *Manager) Subscribe(fn Subscriber) func() { return m.store.Subscribe(fn) }

// Credential returns the current access credential as a snapshot.
// The second return is false when no session exists.
func (m *Manager) Credential() (string, bool) {
	sess := m.store.Session()
	if sess == nil {
		return "", false
	}
	return sess.AccessToken, true
}

// HasRole reports whether the current session carries the role. The
// configured super role satisfies every check. Without a session the answer
// is always false.
func (m *Manager) HasRole(role string) bool {
	sess := m.store.Session()
	if sess == nil {
		return false
	}
	if m.superRole != "" && sess.HasRole(m.superRole) {
		return true
	}
	return sess.HasRole(role)
}

// Initialize establishes the session. It is idempotent and single-flight:
// when a handshake is already in flight, the call waits for it and returns
// its result; when the session exists, it returns immediately; a failed
// state is reset to idle before retrying.
//
// Exactly one provider handshake runs per flight regardless of how many
// callers arrive before it resolves.
func (m *Manager) Initialize(ctx context.Context) (*Session, error) {
	m.mu.Lock()

	if call := m.inflight; call != nil {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.sess, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	failed := false
	switch m.store.State() {
	case StateInitialized:
		m.mu.Unlock()
		return m.store.Session(), nil
	case StateFailed:
		failed = true
	}

	call := &initCall{done: make(chan struct{})}
	m.inflight = call
	m.mu.Unlock()

	if failed {
		// Retry after failure implies the explicit failed -> idle reset.
		m.store.transition(EventReset, StateIdle, nil, nil)
	}
	m.store.transition(EventLifecycle, StateInitializing, nil, nil)
	call.sess, call.err = m.handshake(ctx)

	m.mu.Lock()
	m.inflight = nil
	m.mu.Unlock()
	close(call.done)

	return call.sess, call.err
}

// handshake runs the provider handshake and applies its outcome.
func (m *Manager) handshake(ctx context.Context) (*Session, error) {
	res, err := m.provider.Initialize(ctx)
	if err == nil && !res.Authenticated {
		err = ErrNotAuthenticated
	}
	if err != nil {
		metrics.SessionInitTotal.WithLabelValues("failure").Inc()
		logging.Error().Err(err).Msg("session initialization failed")
		m.store.transition(EventLifecycle, StateFailed, nil, err)
		return nil, err
	}

	sess := sessionFromResult(res)
	metrics.SessionInitTotal.WithLabelValues("success").Inc()
	logging.Info().
		Str("subject", sess.Profile.ID).
		Int("roles", len(sess.Roles)).
		Time("expires_at", sess.ExpiresAt).
		Msg("session initialized")

	m.store.transition(EventLifecycle, StateInitialized, sess, nil)
	m.ScheduleAutoRefresh()
	return m.store.Session(), nil
}

// Refresh exchanges the credential when its remaining validity is below
// minValidity. It reports whether an exchange happened. Passing ForceRefresh
// (or any negative threshold) always exchanges.
//
// Refresh is single-flight: callers arriving while an exchange is in flight
// (the scheduled tick racing a gateway-forced refresh) wait for it and share
// its outcome, so the stored refresh token is presented at most once.
//
// A transient failure leaves the lifecycle state untouched and returns the
// error; the caller decides whether to force logout. When the provider
// reports the session itself invalid, the state becomes failed and
// subscribers are notified.
func (m *Manager) Refresh(ctx context.Context, minValidity time.Duration) (bool, error) {
	sess := m.store.Session()
	if sess == nil {
		return false, ErrNotInitialized
	}
	if minValidity >= 0 && sess.TimeLeft() > minValidity {
		metrics.SessionRefreshTotal.WithLabelValues("skipped").Inc()
		return false, nil
	}

	m.mu.Lock()
	if call := m.refreshing; call != nil {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.refreshed, call.err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	m.refreshing = call
	m.mu.Unlock()

	call.refreshed, call.err = m.exchange(ctx)

	m.mu.Lock()
	m.refreshing = nil
	m.mu.Unlock()
	close(call.done)

	return call.refreshed, call.err
}

// exchange runs one credential exchange against the provider and applies
// its outcome. The session is re-read under the won flight slot so the
// exchange always presents the freshest stored refresh token.
func (m *Manager) exchange(ctx context.Context) (bool, error) {
	sess := m.store.Session()
	if sess == nil {
		return false, ErrNotInitialized
	}

	start := time.Now()
	res, err := m.provider.UpdateToken(ctx, sess.RefreshToken)
	metrics.SessionRefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SessionRefreshTotal.WithLabelValues("failure").Inc()
		if isSessionInvalid(err) {
			logging.Error().Err(err).Msg("credential refresh rejected, session invalid")
			m.stopAutoRefresh()
			m.store.transition(EventLifecycle, StateFailed, nil, err)
		} else {
			logging.Warn().Err(err).Msg("credential refresh failed")
		}
		return false, err
	}

	metrics.SessionRefreshTotal.WithLabelValues("success").Inc()
	if !m.store.replaceCredentials(res) {
		// Logged out while the exchange was in flight.
		return false, ErrNotInitialized
	}
	logging.Debug().Time("expires_at", res.Claims.ExpiresAt).Msg("credential refreshed")
	return true, nil
}

// ScheduleAutoRefresh arms the recurring refresh timer. The slot is single:
// arming always cancels any previous timer first. The timer re-arms itself
// after every attempt, whether or not a refresh occurred, for as long as the
// session stays initialized.
func (m *Manager) ScheduleAutoRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armLocked()
}

// armLocked arms the timer slot; m.mu must be held.
func (m *Manager) armLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerGen++
	gen := m.timerGen
	m.timer = time.AfterFunc(m.refreshInterval, func() { m.autoRefreshTick(gen) })
}

// autoRefreshTick runs one scheduled refresh attempt and re-arms the slot
// unless the timer generation moved on (logout or reset) or the session left
// the initialized state.
func (m *Manager) autoRefreshTick(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.refreshInterval)
	defer cancel()

	refreshed, err := m.Refresh(ctx, m.minValidity)
	if err == nil && refreshed {
		logging.Debug().Msg("scheduled refresh exchanged credential")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.timerGen {
		return
	}
	if m.store.State() != StateInitialized {
		return
	}
	m.armLocked()
}

// stopAutoRefresh cancels the timer slot and invalidates pending ticks.
func (m *Manager) stopAutoRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Logout clears timers and the session, notifies subscribers with a reset
// event, and then triggers the provider's external sign-out. Local cleanup
// always runs; the returned error only reports the provider call.
func (m *Manager) Logout(ctx context.Context) error {
	m.stopAutoRefresh()

	sess := m.store.Session()
	m.store.transition(EventReset, StateIdle, nil, nil)

	if sess == nil {
		return nil
	}
	if err := m.provider.Logout(ctx, sess.RefreshToken); err != nil {
		metrics.SessionLogoutTotal.WithLabelValues("failure").Inc()
		logging.Warn().Err(err).Msg("provider sign-out failed, local session cleared")
		return err
	}
	metrics.SessionLogoutTotal.WithLabelValues("success").Inc()
	logging.Info().Msg("logged out")
	return nil
}

// Reset moves a failed manager back to idle so Initialize may retry.
// A no-op in any other state.
func (m *Manager) Reset() {
	m.stopAutoRefresh()
	if m.store.State() == StateFailed {
		m.store.transition(EventReset, StateIdle, nil, nil)
	}
}

// Serve initializes the session and blocks until the context is canceled,
// keeping the auto-refresh timer armed. It satisfies the suture service
// shape used by the supervisor package: a failed initialization returns the
// error so the supervisor can back off and retry.
func (m *Manager) Serve(ctx context.Context) error {
	if _, err := m.Initialize(ctx); err != nil {
		m.Reset()
		return err
	}
	<-ctx.Done()
	m.stopAutoRefresh()
	return ctx.Err()
}

// isSessionInvalid reports whether err marks the session itself as invalid.
func isSessionInvalid(err error) bool {
	return errors.Is(err, ErrSessionInvalid)
}
