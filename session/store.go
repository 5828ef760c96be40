// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package session

import (
	"sync"
	"sync/atomic"
)

// EventType discriminates subscriber notifications.
type EventType string

const (
	// EventLifecycle signals a lifecycle state transition.
	EventLifecycle EventType = "lifecycle"

	// EventCredentials signals that credential fields were replaced in
	// place. Roles are unchanged unless the event's Session says otherwise;
	// listeners needing only the new token do not re-resolve roles.
	EventCredentials EventType = "credentials"

	// EventReset signals that the session was cleared by logout or reset.
	EventReset EventType = "reset"
)

// Event is delivered to subscribers on every transition.
type Event struct {
	Type EventType

	// State is the lifecycle state after the transition.
	State State

	// Session is a snapshot of the current session, nil when none exists.
	Session *Session

	// Err is set on failure transitions.
	Err error
}

// Subscriber receives events. Subscribers read, never write; the Session in
// the event is already a private copy.
type Subscriber func(Event)

// subscription tracks one registered callback. The active flag is checked
// immediately before every invocation so that an unsubscribed callback is
// never invoked, even when unsubscription races a pending delivery.
type subscription struct {
	fn     Subscriber
	active atomic.Bool
}

// Store holds the current session, its lifecycle state, and the subscriber
// list. The Manager is the single writer; all other access is read-only
// snapshots.
type Store struct {
	mu    sync.RWMutex
	state State
	sess  *Session
	err   error
	subs  []*subscription
}

// NewStore creates an empty store in the idle state.
func NewStore() *Store {
	return &Store{state: StateIdle}
}

// State returns the current lifecycle state.
func (st *Store) State() State {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state
}

// Session returns a snapshot of the current session, or nil.
func (st *Store) Session() *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sess.Clone()
}

// Err returns the error recorded by the last failed transition, or nil.
func (st *Store) Err() error {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.err
}

// Subscribe registers a callback for subsequent events and returns its
// unregister handle. After the handle runs, the callback is never invoked
// again.
func (st *Store) Subscribe(fn Subscriber) func() {
	sub := &subscription{fn: fn}
	sub.active.Store(true)

	st.mu.Lock()
	st.subs = append(st.subs, sub)
	st.mu.Unlock()

	return func() {
		sub.active.Store(false)
		st.mu.Lock()
		for i, s := range st.subs {
			if s == sub {
				st.subs = append(st.subs[:i], st.subs[i+1:]...)
				break
			}
		}
		st.mu.Unlock()
	}
}

// transition records the new state and delivers the event synchronously to
// every current subscriber, in registration order, before returning.
// Callbacks run outside the lock so they may call back into the store.
func (st *Store) transition(typ EventType, state State, sess *Session, err error) {
	st.mu.Lock()
	st.state = state
	st.sess = sess
	st.err = err
	subs := make([]*subscription, len(st.subs))
	copy(subs, st.subs)
	st.mu.Unlock()

	ev := Event{Type: typ, State: state, Session: sess.Clone(), Err: err}
	for _, sub := range subs {
		if sub.active.Load() {
			sub.fn(ev)
		}
	}
}

// replaceCredentials mutates the stored session's credential fields in place
// and delivers a credentials event. Returns false when no session exists.
func (st *Store) replaceCredentials(res *Result) bool {
	st.mu.Lock()
	if st.sess == nil {
		st.mu.Unlock()
		return false
	}
	st.sess.AccessToken = res.AccessToken
	st.sess.RefreshToken = res.RefreshToken
	st.sess.ExpiresAt = res.Claims.ExpiresAt
	if !res.Claims.RefreshExpiresAt.IsZero() {
		st.sess.RefreshExpiresAt = res.Claims.RefreshExpiresAt
	}
	if res.Claims.Roles != nil {
		roles := make([]string, len(res.Claims.Roles))
		copy(roles, res.Claims.Roles)
		st.sess.Roles = roles
	}
	snap := st.sess.Clone()
	state := st.state
	subs := make([]*subscription, len(st.subs))
	copy(subs, st.subs)
	st.mu.Unlock()

	ev := Event{Type: EventCredentials, State: state, Session: snap}
	for _, sub := range subs {
		if sub.active.Load() {
			sub.fn(ev)
		}
	}
	return true
}
