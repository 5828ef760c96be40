// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProvider is a scripted Provider for manager tests.
type fakeProvider struct {
	mu sync.Mutex

	initCalls    atomic.Int64
	updateCalls  atomic.Int64
	logoutCalls  atomic.Int64
	initDelay    time.Duration
	initErrs     []error // consumed front-first; nil entry means success
	updateDelay  time.Duration
	updateErr    error
	logoutErr    error
	tokenCounter atomic.Int64
	expiresIn    time.Duration
	roles        []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		expiresIn: time.Hour,
		roles:     []string{"operator", "viewer"},
	}
}

func (p *fakeProvider) result() *Result {
	n := p.tokenCounter.Add(1)
	return &Result{
		Authenticated: true,
		AccessToken:   fmt.Sprintf("access-%d", n),
		RefreshToken:  fmt.Sprintf("refresh-%d", n),
		Claims: Claims{
			Subject:     "user-1",
			DisplayName: "Test Operator",
			Locale:      "en",
			Roles:       p.roles,
			ExpiresAt:   time.Now().Add(p.expiresIn),
		},
	}
}

func (p *fakeProvider) Initialize(ctx context.Context) (*Result, error) {
	p.initCalls.Add(1)
	if p.initDelay > 0 {
		select {
		case <-time.After(p.initDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	var err error
	if len(p.initErrs) > 0 {
		err = p.initErrs[0]
		p.initErrs = p.initErrs[1:]
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.result(), nil
}

func (p *fakeProvider) UpdateToken(ctx context.Context, refreshToken string) (*Result, error) {
	p.updateCalls.Add(1)
	if p.updateDelay > 0 {
		select {
		case <-time.After(p.updateDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	err := p.updateErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.result(), nil
}

func (p *fakeProvider) Logout(ctx context.Context, refreshToken string) error {
	p.logoutCalls.Add(1)
	return p.logoutErr
}

// collectEvents subscribes and returns a snapshot function.
func collectEvents(t *testing.T, m *Manager) func() []Event {
	t.Helper()
	var mu sync.Mutex
	var events []Event
	t.Cleanup(m.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))
	return func() []Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Event, len(events))
		copy(out, events)
		return out
	}
}

func mustInitialize(t *testing.T, m *Manager) *Session {
	t.Helper()
	sess, err := m.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if sess == nil {
		t.Fatal("Initialize() returned nil session")
	}
	return sess
}

func TestInitializeEstablishesSession(t *testing.T) {
	p := newFakeProvider()
	m := NewManager(p)
	defer m.stopAutoRefresh()

	events := collectEvents(t, m)
	sess := mustInitialize(t, m)

	if m.State() != StateInitialized {
		t.Fatalf("state = %q, want %q", m.State(), StateInitialized)
	}
	if sess.Profile.ID != "user-1" {
		t.Errorf("Profile.ID = %q, want %q", sess.Profile.ID, "user-1")
	}
	if sess.AccessToken != "access-1" {
		t.Errorf("AccessToken = %q, want %q", sess.AccessToken, "access-1")
	}

	got := events()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(got), got)
	}
	if got[0].State != StateInitializing || got[1].State != StateInitialized {
		t.Errorf("event states = %q, %q, want initializing then initialized", got[0].State, got[1].State)
	}
}

func TestInitializeSingleFlight(t *testing.T) {
	p := newFakeProvider()
	p.initDelay = 50 * time.Millisecond
	m := NewManager(p)
	defer m.stopAutoRefresh()

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := m.Initialize(context.Background())
			errs[i] = err
			if sess != nil {
				tokens[i] = sess.AccessToken
			}
		}(i)
	}
	wg.Wait()

	if n := p.initCalls.Load(); n != 1 {
		t.Fatalf("provider Initialize called %d times, want 1", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: error = %v", i, errs[i])
		}
		if tokens[i] != "access-1" {
			t.Errorf("caller %d: token = %q, want %q", i, tokens[i], "access-1")
		}
	}
}

func TestInitializeIdempotent(t *testing.T) {
	p := newFakeProvider()
	m := NewManager(p)
	defer m.stopAutoRefresh()

	mustInitialize(t, m)
	mustInitialize(t, m)

	if n := p.initCalls.Load(); n != 1 {
		t.Fatalf("provider Initialize called %d times, want 1", n)
	}
}

func TestInitializeFailureThenRetry(t *testing.T) {
	p := newFakeProvider()
	wantErr := errors.New("idp unreachable")
	p.initErrs = []error{wantErr}
	m := NewManager(p)
	defer m.stopAutoRefresh()

	if _, err := m.Initialize(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("first Initialize() error = %v, want %v", err, wantErr)
	}
	if m.State() != StateFailed {
		t.Fatalf("state after failure = %q, want %q", m.State(), StateFailed)
	}
	if !errors.Is(m.Err(), wantErr) {
		t.Errorf("Err() = %v, want %v", m.Err(), wantErr)
	}

	// Retry implies the failed -> idle reset.
	mustInitialize(t, m)
	if m.State() != StateInitialized {
		t.Fatalf("state after retry = %q, want %q", m.State(), StateInitialized)
	}
	if n := p.initCalls.Load(); n != 2 {
		t.Errorf("provider Initialize called %d times, want 2", n)
	}
}

func TestInitializeUnauthenticated(t *testing.T) {
	m := NewManager(&unauthenticatedProvider{})
	if _, err := m.Initialize(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Initialize() error = %v, want %v", err, ErrNotAuthenticated)
	}
	if m.State() != StateFailed {
		t.Errorf("state = %q, want %q", m.State(), StateFailed)
	}
}

type unauthenticatedProvider struct{}

func (p *unauthenticatedProvider) Initialize(ctx context.Context) (*Result, error) {
	return &Result{Authenticated: false}, nil
}

func (p *unauthenticatedProvider) UpdateToken(ctx context.Context, refreshToken string) (*Result, error) {
	return nil, ErrNotAuthenticated
}

func (p *unauthenticatedProvider) Logout(ctx context.Context, refreshToken string) error {
	return nil
}

func TestRefreshSkippedAboveThreshold(t *testing.T) {
	p := newFakeProvider()
	p.expiresIn = 200 * time.Second
	m := NewManager(p)
	defer m.stopAutoRefresh()

	mustInitialize(t, m)

	refreshed, err := m.Refresh(context.Background(), 30*time.Second)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed {
		t.Error("Refresh() exchanged credential despite 200s remaining and 30s threshold")
	}
	if n := p.updateCalls.Load(); n != 0 {
		t.Errorf("provider UpdateToken called %d times, want 0", n)
	}
}

func TestRefreshBelowThreshold(t *testing.T) {
	p := newFakeProvider()
	p.expiresIn = 10 * time.Second
	m := NewManager(p)
	defer m.stopAutoRefresh()

	mustInitialize(t, m)
	events := collectEvents(t, m)

	refreshed, err := m.Refresh(context.Background(), 30*time.Second)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !refreshed {
		t.Fatal("Refresh() skipped despite 10s remaining and 30s threshold")
	}

	sess := m.Session()
	if sess.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q, want %q", sess.AccessToken, "access-2")
	}
	got := events()
	if len(got) != 1 || got[0].Type != EventCredentials {
		t.Fatalf("events = %+v, want one credentials event", got)
	}
	if got[0].State != StateInitialized {
		t.Errorf("credentials event state = %q, want %q", got[0].State, StateInitialized)
	}
}

func TestRefreshForced(t *testing.T) {
	p := newFakeProvider()
	p.expiresIn = time.Hour
	m := NewManager(p)
	defer m.stopAutoRefresh()

	mustInitialize(t, m)

	refreshed, err := m.Refresh(context.Background(), ForceRefresh)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !refreshed {
		t.Error("forced Refresh() did not exchange credential")
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	p := newFakeProvider()
	p.updateDelay = 50 * time.Millisecond
	m := NewManager(p)
	defer m.stopAutoRefresh()

	mustInitialize(t, m)

	const callers = 8
	var wg sync.WaitGroup
	refreshed := make([]bool, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			refreshed[i], errs[i] = m.Refresh(context.Background(), ForceRefresh)
		}(i)
	}
	wg.Wait()

	if n := p.updateCalls.Load(); n != 1 {
		t.Fatalf("provider UpdateToken called %d times, want 1", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: error = %v", i, errs[i])
		}
		if !refreshed[i] {
			t.Errorf("caller %d: did not observe the shared exchange", i)
		}
	}
	if got := m.Session().AccessToken; got != "access-2" {
		t.Fatalf("stored token = %q, want %q", got, "access-2")
	}
}

func TestRefreshWithoutSession(t *testing.T) {
	m := NewManager(newFakeProvider())
	if _, err := m.Refresh(context.Background(), 0); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Refresh() error = %v, want %v", err, ErrNotInitialized)
	}
}

func TestRefreshTransientErrorKeepsSession(t *testing.T) {
	p := newFakeProvider()
	p.expiresIn = 10 * time.Second
	m := NewManager(p)
	defer m.stopAutoRefresh()

	mustInitialize(t, m)

	p.mu.Lock()
	p.updateErr = errors.New("network down")
	p.mu.Unlock()

	if _, err := m.Refresh(context.Background(), 30*time.Second); err == nil {
		t.Fatal("Refresh() error = nil, want transient error")
	}
	if m.State() != StateInitialized {
		t.Errorf("state = %q, want %q after transient error", m.State(), StateInitialized)
	}
	if m.Session() == nil {
		t.Error("session cleared after transient refresh error")
	}
}

func TestRefreshSessionInvalid(t *testing.T) {
	p := newFakeProvider()
	p.expiresIn = 10 * time.Second
	m := NewManager(p)
	defer m.stopAutoRefresh()

	mustInitialize(t, m)
	events := collectEvents(t, m)

	p.mu.Lock()
	p.updateErr = fmt.Errorf("token exchange rejected: %w", ErrSessionInvalid)
	p.mu.Unlock()

	_, err := m.Refresh(context.Background(), 30*time.Second)
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("Refresh() error = %v, want %v", err, ErrSessionInvalid)
	}
	if m.State() != StateFailed {
		t.Fatalf("state = %q, want %q", m.State(), StateFailed)
	}

	got := events()
	if len(got) != 1 || got[0].State != StateFailed {
		t.Fatalf("events = %+v, want one failed lifecycle event", got)
	}
	if !errors.Is(got[0].Err, ErrSessionInvalid) {
		t.Errorf("event error = %v, want %v", got[0].Err, ErrSessionInvalid)
	}
}

func TestAutoRefreshExchangesExpiredCredential(t *testing.T) {
	p := newFakeProvider()
	p.expiresIn = 5 * time.Millisecond
	m := NewManager(p,
		WithRefreshInterval(20*time.Millisecond),
		WithMinValidity(30*time.Second),
	)
	defer m.stopAutoRefresh()

	mustInitialize(t, m)

	deadline := time.Now().Add(2 * time.Second)
	for p.updateCalls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("auto-refresh never exchanged the credential")
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline = time.Now().Add(2 * time.Second)
	for m.Session().AccessToken == "access-1" {
		if time.Now().After(deadline) {
			t.Fatal("credential not replaced after auto-refresh")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLogoutClearsSessionAndTimer(t *testing.T) {
	p := newFakeProvider()
	m := NewManager(p, WithSuperRole("admin"))

	mustInitialize(t, m)
	events := collectEvents(t, m)

	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %q, want %q", m.State(), StateIdle)
	}
	if m.Session() != nil {
		t.Error("session survives logout")
	}
	if m.HasRole("operator") {
		t.Error("HasRole() = true after logout")
	}
	if n := p.logoutCalls.Load(); n != 1 {
		t.Errorf("provider Logout called %d times, want 1", n)
	}

	got := events()
	if len(got) != 1 || got[0].Type != EventReset {
		t.Fatalf("events = %+v, want one reset event", got)
	}

	// No pending tick may re-arm and refresh after logout.
	time.Sleep(30 * time.Millisecond)
	if n := p.updateCalls.Load(); n != 0 {
		t.Errorf("provider UpdateToken called %d times after logout, want 0", n)
	}
}

func TestLogoutProviderErrorStillClearsLocally(t *testing.T) {
	p := newFakeProvider()
	p.logoutErr = errors.New("end-session endpoint 502")
	m := NewManager(p)

	mustInitialize(t, m)

	if err := m.Logout(context.Background()); err == nil {
		t.Fatal("Logout() error = nil, want provider error")
	}
	if m.State() != StateIdle {
		t.Errorf("state = %q, want %q despite provider failure", m.State(), StateIdle)
	}
	if m.Session() != nil {
		t.Error("session survives failed provider sign-out")
	}
}

func TestLogoutWithoutSession(t *testing.T) {
	p := newFakeProvider()
	m := NewManager(p)
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if n := p.logoutCalls.Load(); n != 0 {
		t.Errorf("provider Logout called %d times without a session, want 0", n)
	}
}

func TestHasRole(t *testing.T) {
	p := newFakeProvider()
	p.roles = []string{"operator"}
	m := NewManager(p, WithSuperRole("platform-admin"))
	defer m.stopAutoRefresh()

	if m.HasRole("operator") {
		t.Error("HasRole() = true before initialization")
	}

	mustInitialize(t, m)

	tests := []struct {
		role string
		want bool
	}{
		{"operator", true},
		{"viewer", false},
		{"platform-admin", false},
	}
	for _, tt := range tests {
		if got := m.HasRole(tt.role); got != tt.want {
			t.Errorf("HasRole(%q) = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestHasRoleSuperRole(t *testing.T) {
	p := newFakeProvider()
	p.roles = []string{"platform-admin"}
	m := NewManager(p, WithSuperRole("platform-admin"))
	defer m.stopAutoRefresh()

	mustInitialize(t, m)

	// The super role satisfies every check, including roles never granted.
	for _, role := range []string{"operator", "viewer", "made-up-role"} {
		if !m.HasRole(role) {
			t.Errorf("HasRole(%q) = false, want true via super role", role)
		}
	}
}

func TestResetFromFailed(t *testing.T) {
	p := newFakeProvider()
	p.initErrs = []error{errors.New("boom")}
	m := NewManager(p)

	_, _ = m.Initialize(context.Background())
	if m.State() != StateFailed {
		t.Fatalf("state = %q, want %q", m.State(), StateFailed)
	}

	m.Reset()
	if m.State() != StateIdle {
		t.Fatalf("state after Reset() = %q, want %q", m.State(), StateIdle)
	}
}

func TestCredentialSnapshot(t *testing.T) {
	p := newFakeProvider()
	m := NewManager(p)
	defer m.stopAutoRefresh()

	if _, ok := m.Credential(); ok {
		t.Error("Credential() ok = true before initialization")
	}

	mustInitialize(t, m)
	tok, ok := m.Credential()
	if !ok || tok != "access-1" {
		t.Fatalf("Credential() = %q, %v, want %q, true", tok, ok, "access-1")
	}
}
