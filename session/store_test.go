// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package session

import (
	"sync"
	"testing"
	"time"
)

func testSession() *Session {
	return &Session{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
		Roles:        []string{"operator"},
		Profile:      Profile{ID: "u1", DisplayName: "Op", Locale: "en"},
	}
}

func TestStoreSnapshotIsolation(t *testing.T) {
	st := NewStore()
	st.transition(EventLifecycle, StateInitialized, testSession(), nil)

	snap := st.Session()
	snap.AccessToken = "tampered"
	snap.Roles[0] = "tampered"

	fresh := st.Session()
	if fresh.AccessToken != "at" {
		t.Errorf("AccessToken = %q, mutation leaked into store", fresh.AccessToken)
	}
	if fresh.Roles[0] != "operator" {
		t.Errorf("Roles[0] = %q, mutation leaked into store", fresh.Roles[0])
	}
}

func TestStoreDeliveryOrder(t *testing.T) {
	st := NewStore()
	var order []int
	st.Subscribe(func(Event) { order = append(order, 1) })
	st.Subscribe(func(Event) { order = append(order, 2) })
	st.Subscribe(func(Event) { order = append(order, 3) })

	st.transition(EventLifecycle, StateInitializing, nil, nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("delivery order = %v, want [1 2 3]", order)
	}
}

func TestStoreUnsubscribeStopsDelivery(t *testing.T) {
	st := NewStore()
	var calls int
	unsub := st.Subscribe(func(Event) { calls++ })

	st.transition(EventLifecycle, StateInitializing, nil, nil)
	unsub()
	st.transition(EventLifecycle, StateInitialized, testSession(), nil)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestStoreUnsubscribeIdempotent(t *testing.T) {
	st := NewStore()
	unsub := st.Subscribe(func(Event) {})
	unsub()
	unsub() // second call must not panic or remove another subscriber

	var calls int
	st.Subscribe(func(Event) { calls++ })
	st.transition(EventLifecycle, StateInitializing, nil, nil)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

// A subscriber unsubscribed mid-delivery by an earlier subscriber must not
// run for that same event.
func TestStoreUnsubscribeDuringDelivery(t *testing.T) {
	st := NewStore()
	var secondRan bool
	var unsubSecond func()
	st.Subscribe(func(Event) { unsubSecond() })
	unsubSecond = st.Subscribe(func(Event) { secondRan = true })

	st.transition(EventLifecycle, StateInitializing, nil, nil)

	if secondRan {
		t.Fatal("unsubscribed callback still invoked for the in-flight event")
	}
}

func TestStoreConcurrentSubscribeUnsubscribe(t *testing.T) {
	st := NewStore()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				st.transition(EventLifecycle, StateInitializing, nil, nil)
			}
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				unsub := st.Subscribe(func(Event) {})
				unsub()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent subscribe/unsubscribe deadlocked")
	}
}

func TestStoreReplaceCredentials(t *testing.T) {
	st := NewStore()
	st.transition(EventLifecycle, StateInitialized, testSession(), nil)

	var got []Event
	st.Subscribe(func(ev Event) { got = append(got, ev) })

	ok := st.replaceCredentials(&Result{
		AccessToken:  "at2",
		RefreshToken: "rt2",
		Claims:       Claims{ExpiresAt: time.Now().Add(2 * time.Hour)},
	})
	if !ok {
		t.Fatal("replaceCredentials() = false with a live session")
	}

	sess := st.Session()
	if sess.AccessToken != "at2" || sess.RefreshToken != "rt2" {
		t.Errorf("credentials = %q/%q, want at2/rt2", sess.AccessToken, sess.RefreshToken)
	}
	if sess.Roles[0] != "operator" {
		t.Errorf("roles changed on credential replace: %v", sess.Roles)
	}
	if len(got) != 1 || got[0].Type != EventCredentials {
		t.Fatalf("events = %+v, want one credentials event", got)
	}
}

func TestStoreReplaceCredentialsWithoutSession(t *testing.T) {
	st := NewStore()
	if st.replaceCredentials(&Result{AccessToken: "at"}) {
		t.Fatal("replaceCredentials() = true without a session")
	}
}

func TestSessionTimeLeft(t *testing.T) {
	s := &Session{ExpiresAt: time.Now().Add(time.Minute)}
	if left := s.TimeLeft(); left <= 0 || left > time.Minute {
		t.Errorf("TimeLeft() = %v, want (0, 1m]", left)
	}
	expired := &Session{ExpiresAt: time.Now().Add(-time.Minute)}
	if left := expired.TimeLeft(); left >= 0 {
		t.Errorf("TimeLeft() = %v for expired session, want negative", left)
	}
}
