// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

// Package metrics provides Prometheus instrumentation for the client core.
//
// Metrics are registered against the default registry via promauto; embedding
// applications expose them through their own /metrics handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session metrics
var (
	// SessionInitTotal counts session initialization attempts.
	// Labels:
	//   - outcome: "success", "failure"
	SessionInitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_session_init_total",
			Help: "Total number of identity-provider initialization attempts",
		},
		[]string{"outcome"},
	)

	// SessionRefreshTotal counts token refresh attempts.
	// Labels:
	//   - outcome: "success", "failure", "skipped"
	SessionRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_session_refresh_total",
			Help: "Total number of credential refresh attempts",
		},
		[]string{"outcome"},
	)

	// SessionRefreshDuration measures credential refresh latency.
	SessionRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridwatch_session_refresh_duration_seconds",
			Help:    "Duration of credential refresh operations",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	// SessionLogoutTotal counts logout operations.
	// Labels:
	//   - outcome: "success", "failure" (provider sign-out result; local
	//     cleanup always runs)
	SessionLogoutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_session_logout_total",
			Help: "Total number of logout operations",
		},
		[]string{"outcome"},
	)
)

// Realtime channel metrics
var (
	// RealtimeConnectsTotal counts transport connect attempts.
	// Labels:
	//   - outcome: "success", "failure"
	RealtimeConnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_realtime_connects_total",
			Help: "Total number of realtime transport connect attempts",
		},
		[]string{"outcome"},
	)

	// RealtimeReconnectsTotal counts scheduled reconnect attempts after
	// unclean closures.
	RealtimeReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridwatch_realtime_reconnects_total",
			Help: "Total number of scheduled reconnect attempts",
		},
	)

	// RealtimeReconnectExhaustedTotal counts terminal reconnect give-ups.
	RealtimeReconnectExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridwatch_realtime_reconnect_exhausted_total",
			Help: "Total number of reconnect policies that reached the attempt limit",
		},
	)

	// RealtimeQueueDepth tracks the current outbound queue depth.
	RealtimeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridwatch_realtime_queue_depth",
			Help: "Current number of outbound messages queued while disconnected",
		},
	)

	// RealtimeMessagesTotal counts messages crossing the channel.
	// Labels:
	//   - direction: "in", "out"
	RealtimeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_realtime_messages_total",
			Help: "Total number of realtime messages sent and received",
		},
		[]string{"direction"},
	)

	// RealtimeHeartbeatsTotal counts heartbeat pings answered.
	RealtimeHeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridwatch_realtime_heartbeats_total",
			Help: "Total number of heartbeat pings answered with a pong",
		},
	)
)

// Gateway metrics
var (
	// GatewayRequestsTotal counts API requests by method and status.
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_gateway_requests_total",
			Help: "Total number of API gateway requests",
		},
		[]string{"method", "status"},
	)

	// GatewayRequestDuration measures request latency.
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridwatch_gateway_request_duration_seconds",
			Help:    "Duration of API gateway requests",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// GatewayAuthRetriesTotal counts requests replayed after a 401-triggered
	// credential refresh.
	GatewayAuthRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridwatch_gateway_auth_retries_total",
			Help: "Total number of requests retried after a credential refresh",
		},
	)

	// CircuitBreakerState tracks breaker state (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridwatch_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerTransitions counts breaker state transitions.
	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)
