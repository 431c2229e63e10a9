package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 15, 45},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	MessagesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_submitted_total",
			Help: "Total messages accepted and stored",
		},
	)

	DuplicatesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_duplicates_rejected_total",
			Help: "Total submissions rejected by the replay guard",
		},
	)

	NotifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_notify_failures_total",
			Help: "Total live notifications that could not be delivered",
		},
	)

	ActiveWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_waiters",
			Help: "Long-poll requests currently suspended",
		},
	)

	PollsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_polls_completed_total",
			Help: "Total long-poll requests by outcome",
		},
		[]string{"outcome"}, // "delivered", "timeout" or "cancelled"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Infrastructure metrics
	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
