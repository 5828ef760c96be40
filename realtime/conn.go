// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package realtime

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gridwatch-io/client-go/internal/logging"
	"github.com/gridwatch-io/client-go/internal/metrics"
)

// State is the connection lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Authentication modes for the channel.
const (
	// AuthModeQuery embeds the credential as a token query parameter.
	AuthModeQuery = "query"

	// AuthModeMessage sends an auth message immediately after open.
	AuthModeMessage = "message"
)

var (
	// ErrAuthRequired means the channel requires a session and none exists.
	ErrAuthRequired = errors.New("realtime: channel requires an authenticated session")

	// ErrReconnectExhausted means the attempt limit was reached. The
	// connection stays closed until Connect is called explicitly.
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")

	// ErrQueueFull means the outbound queue hit its configured cap.
	ErrQueueFull = errors.New("realtime: outbound queue full")
)

const (
	defaultReconnectInterval = 3 * time.Second
	defaultMaxReconnects     = 5
	defaultHandshakeTimeout  = 10 * time.Second
	defaultWriteTimeout      = 10 * time.Second
)

// TokenSource supplies the current access credential. The second return is
// false when no session exists.
type TokenSource func() (string, bool)

// Config holds the channel settings.
type Config struct {
	// URL is the websocket endpoint, ws:// or wss://.
	URL string

	// RequireAuth refuses to connect without a credential.
	RequireAuth bool

	// AuthMode selects AuthModeQuery or AuthModeMessage.
	// Defaults to AuthModeQuery.
	AuthMode string

	// ReconnectInterval is the fixed delay between reconnect attempts.
	ReconnectInterval time.Duration

	// MaxReconnectAttempts bounds consecutive reconnect attempts.
	MaxReconnectAttempts int

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each outbound frame write.
	WriteTimeout time.Duration

	// QueueLimit caps the outbound queue; zero means unbounded.
	QueueLimit int
}

func (c *Config) applyDefaults() {
	if c.AuthMode == "" {
		c.AuthMode = AuthModeQuery
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnects
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
}

// Listener is the handle for one registered handler; pass it to
// RemoveEventListener. The active flag is checked right before each
// invocation so an unregistered handler never runs, even when removal races
// a dispatch in flight.
type Listener struct {
	typ    string
	fn     func(Event)
	active bool
}

// Conn is one realtime channel instance. It owns its transport, the
// reconnect timer, and the outbound queue.
//
// The zero value is not usable; construct with NewConn.
type Conn struct {
	cfg    Config
	tokens TokenSource
	dialer *websocket.Dialer

	// mu guards everything below. Writes to ws also happen under mu, so a
	// frame is never interleaved.
	mu       sync.Mutex
	state    State
	ws       *websocket.Conn
	queue    [][]byte
	attempts int
	lastErr  error
	timer    *time.Timer
	gen      uint64
	sid      string

	lmu       sync.Mutex
	listeners map[string][]*Listener
}

// NewConn creates a channel for the configured endpoint. tokens may be nil
// for unauthenticated channels.
func NewConn(cfg Config, tokens TokenSource) *Conn {
	cfg.applyDefaults()
	return &Conn{
		cfg:    cfg,
		tokens: tokens,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		state:     StateIdle,
		listeners: make(map[string][]*Listener),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the most recent connection error, or nil. Cleared on a
// successful open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// QueueLen returns the number of messages waiting for the next open.
func (c *Conn) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// On registers a handler for an event type and returns its unregister
// function. Multiple handlers per type run in registration order.
func (c *Conn) On(typ string, fn func(Event)) func() {
	l := c.AddEventListener(typ, fn)
	return func() { c.RemoveEventListener(l) }
}

// AddEventListener registers a handler for an event type and returns its
// handle for RemoveEventListener. On is the closure-based form of the same
// registration.
func (c *Conn) AddEventListener(typ string, fn func(Event)) *Listener {
	l := &Listener{typ: typ, fn: fn, active: true}
	c.lmu.Lock()
	c.listeners[typ] = append(c.listeners[typ], l)
	c.lmu.Unlock()
	return l
}

// RemoveEventListener deactivates and unlinks a handler. Removing the last
// handler for a type deletes the type entry. Removing twice is a no-op.
func (c *Conn) RemoveEventListener(l *Listener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	l.active = false
	handlers := c.listeners[l.typ]
	for i, h := range handlers {
		if h == l {
			handlers = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	if len(handlers) == 0 {
		delete(c.listeners, l.typ)
	} else {
		c.listeners[l.typ] = handlers
	}
}

// Connect establishes the transport. A no-op while open or connecting.
// Failures never propagate out of Connect; they land in Err and, where
// eligible, arm the reconnect timer.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}

	var token string
	var ok bool
	if c.tokens != nil {
		token, ok = c.tokens()
	}
	if c.cfg.RequireAuth && !ok {
		c.lastErr = ErrAuthRequired
		logging.Warn().Str("url", c.cfg.URL).Msg("realtime connect refused, no session")
		c.mu.Unlock()
		return
	}

	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()

	c.dial(gen, token)
}

// dial runs one transport establishment attempt for the given generation.
func (c *Conn) dial(gen uint64, token string) {
	target, err := c.buildURL(token)
	if err != nil {
		c.finishDial(gen, nil, token, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()
	ws, _, err := c.dialer.DialContext(ctx, target, nil)
	c.finishDial(gen, ws, token, err)
}

// finishDial applies the dial outcome under the lock.
func (c *Conn) finishDial(gen uint64, ws *websocket.Conn, token string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		// Superseded by Disconnect or a newer Connect.
		if ws != nil {
			_ = ws.Close()
		}
		return
	}

	if err != nil {
		metrics.RealtimeConnectsTotal.WithLabelValues("failure").Inc()
		c.state = StateClosed
		c.lastErr = err
		logging.Warn().Err(err).Str("url", c.cfg.URL).Msg("realtime dial failed")
		c.scheduleReconnectLocked()
		return
	}

	c.ws = ws
	c.sid = uuid.NewString()

	// In-band auth goes out first, before anything queued.
	if c.cfg.RequireAuth && c.cfg.AuthMode == AuthModeMessage {
		frame, merr := json.Marshal(Message{Type: TypeAuth, Token: stripBearer(token)})
		if merr == nil {
			merr = c.writeLocked(frame)
		}
		if merr != nil {
			c.teardownLocked(merr)
			c.scheduleReconnectLocked()
			return
		}
	}

	// Flush before the state flips to open so that messages sent while we
	// were disconnected precede anything sent after reconnect.
	for len(c.queue) > 0 {
		frame := c.queue[0]
		if werr := c.writeLocked(frame); werr != nil {
			c.teardownLocked(werr)
			c.scheduleReconnectLocked()
			return
		}
		c.queue = c.queue[1:]
		metrics.RealtimeQueueDepth.Dec()
	}

	metrics.RealtimeConnectsTotal.WithLabelValues("success").Inc()
	c.state = StateOpen
	c.attempts = 0
	c.lastErr = nil
	logging.Info().Str("sid", c.sid).Str("url", c.cfg.URL).Msg("realtime channel open")

	go c.readLoop(gen, ws)
}

// buildURL attaches the token query parameter in the URL auth mode.
func (c *Conn) buildURL(token string) (string, error) {
	if !c.cfg.RequireAuth || c.cfg.AuthMode != AuthModeQuery || token == "" {
		return c.cfg.URL, nil
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", stripBearer(token))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// stripBearer drops a scheme prefix when the credential carries one.
func stripBearer(token string) string {
	if rest, found := strings.CutPrefix(token, "Bearer "); found {
		return rest
	}
	return token
}

// Send transmits immediately when open; otherwise it enqueues the message
// and triggers a connect attempt. Strings and byte slices are sent as-is,
// other values are JSON-encoded.
func (c *Conn) Send(v any) error {
	frame, err := encodeOutbound(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateOpen {
		err = c.writeLocked(frame)
		if err != nil {
			c.teardownLocked(err)
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		return err
	}

	if c.cfg.QueueLimit > 0 && len(c.queue) >= c.cfg.QueueLimit {
		c.mu.Unlock()
		return ErrQueueFull
	}
	c.queue = append(c.queue, frame)
	metrics.RealtimeQueueDepth.Inc()
	needsConnect := c.state == StateIdle || c.state == StateClosed
	c.mu.Unlock()

	if needsConnect {
		go c.Connect()
	}
	return nil
}

// writeLocked writes one text frame; c.mu must be held.
func (c *Conn) writeLocked(frame []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	metrics.RealtimeMessagesTotal.WithLabelValues("out").Inc()
	return nil
}

// Disconnect closes the channel on user request: the reconnect timer is
// cancelled, the transport closed with a normal-closure code, the queue
// dropped, and counters reset. Never followed by auto-reconnect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++ // invalidates any in-flight dial and the read loop
	c.stopTimerLocked()

	if c.ws != nil {
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
		c.ws = nil
	}

	metrics.RealtimeQueueDepth.Sub(float64(len(c.queue)))
	c.queue = nil
	c.attempts = 0
	c.lastErr = nil
	if c.state != StateIdle {
		c.state = StateClosed
	}
	logging.Debug().Str("sid", c.sid).Msg("realtime channel disconnected")
}

// Serve connects and blocks until the context ends, then disconnects. It is
// the suture service entry point.
func (c *Conn) Serve(ctx context.Context) error {
	c.Connect()
	<-ctx.Done()
	c.Disconnect()
	return ctx.Err()
}

// teardownLocked closes the transport after a write failure; c.mu held.
func (c *Conn) teardownLocked(err error) {
	c.gen++ // the read loop for this transport must not double-handle
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.state = StateClosed
	c.lastErr = err
}

// stopTimerLocked cancels the pending reconnect timer slot; c.mu held.
func (c *Conn) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// scheduleReconnectLocked arms the single reconnect timer slot, or records
// exhaustion once the attempt limit is reached; c.mu held.
func (c *Conn) scheduleReconnectLocked() {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		metrics.RealtimeReconnectExhaustedTotal.Inc()
		c.lastErr = ErrReconnectExhausted
		logging.Error().
			Int("attempts", c.attempts).
			Str("url", c.cfg.URL).
			Msg("realtime reconnect attempts exhausted")
		return
	}
	c.attempts++
	c.stopTimerLocked()
	c.timer = time.AfterFunc(c.cfg.ReconnectInterval, c.reconnect)
	logging.Debug().
		Int("attempt", c.attempts).
		Dur("interval", c.cfg.ReconnectInterval).
		Msg("realtime reconnect scheduled")
}

// reconnect runs one timer-driven attempt.
func (c *Conn) reconnect() {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return
	}

	var token string
	var ok bool
	if c.tokens != nil {
		token, ok = c.tokens()
	}
	if c.cfg.RequireAuth && !ok {
		c.lastErr = ErrAuthRequired
		c.mu.Unlock()
		return
	}

	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()

	metrics.RealtimeReconnectsTotal.Inc()
	c.dial(gen, token)
}

// readLoop consumes inbound frames for one transport generation.
func (c *Conn) readLoop(gen uint64, ws *websocket.Conn) {
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			c.handleClosure(gen, err)
			return
		}
		metrics.RealtimeMessagesTotal.WithLabelValues("in").Inc()
		c.handleFrame(frame)
	}
}

// handleFrame decodes one inbound frame and dispatches it. Heartbeats are
// answered transparently; undecodable payloads dispatch as raw events.
func (c *Conn) handleFrame(frame []byte) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil || msg.Type == "" {
		c.dispatch(Event{Type: TypeRaw, Raw: frame})
		return
	}

	if msg.Type == TypePing {
		metrics.RealtimeHeartbeatsTotal.Inc()
		reply, _ := json.Marshal(Message{Type: TypePong})
		c.mu.Lock()
		if c.state == StateOpen {
			_ = c.writeLocked(reply)
		}
		c.mu.Unlock()
		return
	}

	c.dispatch(Event{Type: msg.Type, Data: msg.Data, Raw: frame})
}

// dispatch delivers an event to every handler registered for its type, in
// registration order. A panicking handler does not stop the rest.
func (c *Conn) dispatch(ev Event) {
	c.lmu.Lock()
	handlers := make([]*Listener, len(c.listeners[ev.Type]))
	copy(handlers, c.listeners[ev.Type])
	c.lmu.Unlock()

	for _, l := range handlers {
		c.invoke(l, ev)
	}
}

func (c *Conn) invoke(l *Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("event_type", ev.Type).
				Interface("panic", r).
				Msg("realtime handler panicked")
		}
	}()
	c.lmu.Lock()
	active := l.active
	c.lmu.Unlock()
	if active {
		l.fn(ev)
	}
}

// handleClosure reacts to the transport ending for a given generation.
// Stale generations (user disconnect, superseding dial) are ignored.
func (c *Conn) handleClosure(gen uint64, err error) {
	clean := websocket.IsCloseError(err, websocket.CloseNormalClosure)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}

	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.state = StateClosed

	if clean {
		logging.Debug().Str("sid", c.sid).Msg("realtime channel closed cleanly")
		return
	}

	c.lastErr = err
	logging.Warn().Err(err).Str("sid", c.sid).Msg("realtime channel closed uncleanly")
	c.scheduleReconnectLocked()
}
