package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session Lifecycle Metrics
var (
	// SessionsStartedTotal tracks session starts by result
	SessionsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_started_total",
			Help: "Total session starts by result (success/duplicate/auth_error/transport_error)",
		},
		[]string{"result"},
	)

	// SessionsClosedTotal tracks session closes by result
	SessionsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_closed_total",
			Help: "Total session closes by result (success/transport_error)",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks the number of currently registered sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Number of currently active metered sessions",
		},
	)

	// SessionDuration tracks session lifetime from start to close
	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_duration_seconds",
			Help:    "Session duration from start to close in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)
)

// Usage Metering Metrics
var (
	// UsageIncrementsTotal tracks usage increments by result
	UsageIncrementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_increments_total",
			Help: "Total usage increments by result (applied/insufficient_balance/not_found/error)",
		},
		[]string{"result"},
	)

	// BalanceRejectionsTotal tracks increments refused because the
	// remaining allocation could not cover the requested cost
	BalanceRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "balance_rejections_total",
			Help: "Total usage increments rejected by the balance cap",
		},
	)
)

// Channel Transport Metrics
var (
	// TransportCallsTotal tracks clearnode RPC calls by method and status
	TransportCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_calls_total",
			Help: "Total clearnode RPC calls by method and status (success/error/timeout)",
		},
		[]string{"method", "status"},
	)

	// TransportCallDuration tracks clearnode RPC round-trip latency
	TransportCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transport_call_duration_seconds",
			Help:    "Clearnode RPC round-trip duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// TransportReconnectsTotal tracks websocket dials after the first
	TransportReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transport_reconnects_total",
			Help: "Total clearnode websocket reconnection attempts",
		},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)

// HTTP Error Metrics
// Note: http_errors_total{type} is provided by internal/errors package
