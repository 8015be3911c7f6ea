package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hub_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connections_active",
			Help: "Currently open WebSocket connections",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_connections_rejected_total",
			Help: "Connection attempts rejected before activation",
		},
		[]string{"reason"}, // "unauthorized" or "capacity"
	)

	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_messages_relayed_total",
			Help: "Envelopes fanned out to channel subscribers",
		},
		[]string{"type"},
	)

	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_messages_persisted_total",
			Help: "Messages appended to durable storage",
		},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_persist_failures_total",
			Help: "Durable-store appends that failed (message was still delivered live)",
		},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_rate_limited_total",
			Help: "Inbound operations dropped by the per-agent rate limiter",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_auth_failures_total",
			Help: "Failed credential exchanges and token verifications",
		},
		[]string{"surface"}, // "token", "refresh", "bearer", "ws"
	)
)
