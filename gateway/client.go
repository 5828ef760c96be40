// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

// Package gateway is the authenticated HTTP surface of the console backend:
// bearer injection, a single shared refresh-and-retry on credential
// rejection, typed error categories, and unwrapping of the backend's
// response envelope.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/gridwatch-io/client-go/internal/logging"
	"github.com/gridwatch-io/client-go/internal/metrics"
)

const defaultRequestTimeout = 30 * time.Second

// envelope is the backend's uniform response wrapper. When data is present
// it is the effective payload.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Config holds the client settings.
type Config struct {
	// BaseURL is the backend root, e.g. "https://console.example.com/api".
	BaseURL string

	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration

	// RateLimit caps outbound requests per second; zero disables limiting.
	RateLimit float64

	// RateBurst is the limiter burst size; defaults to 1 when limiting.
	RateBurst int

	// CircuitBreaker trips the client open after consecutive backend
	// failures instead of hammering a dead service.
	CircuitBreaker bool
}

// Client issues envelope-aware requests against the backend.
type Client struct {
	http    *http.Client
	base    *url.URL
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// New builds a client over the credential-handling transport.
func New(cfg Config, sessions SessionSource) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}

	c := &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: NewTransport(sessions, nil),
		},
		base: base,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.CircuitBreaker {
		c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name: "gateway",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				logging.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state change")
			},
		})
	}
	return c, nil
}

// requestOptions carries per-call adjustments.
type requestOptions struct {
	exempt       bool
	errorMessage string
}

// RequestOption adjusts a single call.
type RequestOption func(*requestOptions)

// NoAuth sends the request without a credential and without the 401
// refresh-and-retry flow.
func NoAuth() RequestOption {
	return func(o *requestOptions) { o.exempt = true }
}

// WithErrorMessage overrides the category default message for any APIError
// this call produces.
func WithErrorMessage(msg string) RequestOption {
	return func(o *requestOptions) { o.errorMessage = msg }
}

// Get issues a GET and decodes the envelope payload into out.
func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodGet, path, nil, out, opts...)
}

// Post issues a POST with a JSON body and decodes the payload into out.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPost, path, body, out, opts...)
}

// Put issues a PUT with a JSON body and decodes the payload into out.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPut, path, body, out, opts...)
}

// Delete issues a DELETE and decodes the payload into out.
func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out, opts...)
}

// Do issues one request. body, when non-nil, is JSON-encoded; out, when
// non-nil, receives the envelope's data field (or the whole body when the
// response is not enveloped). Rejections other than 401 return an APIError
// and are never retried.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...RequestOption) error {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if o.exempt {
		ctx = WithoutAuth(ctx)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.send(req)
	metrics.GatewayRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues(method, "error").Inc()
		return err
	}
	defer resp.Body.Close()
	metrics.GatewayRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return c.rejection(resp.StatusCode, raw, requestID, &o)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return decodePayload(raw, out)
}

// errServerStatus marks a 5xx response as a breaker failure while still
// handing the response back for classification.
var errServerStatus = errors.New("gateway: server error status")

// send routes the request through the breaker when one is configured.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.http.Do(req)
	}
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if errors.Is(err, errServerStatus) && resp != nil {
		return resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &APIError{
			Category: CategoryUnavailable,
			Message:  defaultMessages[CategoryUnavailable],
		}
	}
	return resp, err
}

// rejection builds the typed error for a 4xx/5xx response.
func (c *Client) rejection(status int, raw []byte, requestID string, o *requestOptions) error {
	apiErr := &APIError{
		Status:    status,
		Category:  categorize(status),
		RequestID: requestID,
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil {
		apiErr.Code = env.Code
		apiErr.Message = env.Message
	}
	if o.errorMessage != "" {
		apiErr.Message = o.errorMessage
	}
	if apiErr.Message == "" {
		apiErr.Message = defaultMessages[apiErr.Category]
	}

	logging.Debug().
		Int("status", status).
		Str("category", string(apiErr.Category)).
		Str("request_id", requestID).
		Msg("backend rejected request")
	return apiErr
}

// decodePayload unwraps the envelope when present and decodes into out.
func decodePayload(raw []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Data != nil {
		return json.Unmarshal(env.Data, out)
	}
	return json.Unmarshal(raw, out)
}
