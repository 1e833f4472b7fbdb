// ABOUTME: Prometheus collectors for the messaging subsystem
// ABOUTME: Registered via promauto on the default registry, served at /metrics

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "babu_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "babu_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Messaging metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "babu_messages_sent_total",
			Help: "Total messages appended to conversation logs",
		},
		[]string{"type"},
	)

	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "babu_messages_delivered_total",
			Help: "Total per-recipient delivery transitions",
		},
	)

	MessagesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "babu_messages_read_total",
			Help: "Total per-recipient read transitions",
		},
	)

	ReconciliationRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "babu_reconciliation_runs_total",
			Help: "Total reconnect reconciliation passes",
		},
	)

	// Presence metrics
	ConnectedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "babu_connected_users",
			Help: "Identities with at least one live connection",
		},
	)

	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "babu_open_connections",
			Help: "Live websocket connections",
		},
	)

	// Fan-out metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "babu_events_published_total",
			Help: "Events published to rooms",
		},
		[]string{"event"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "babu_events_dropped_total",
			Help: "Events dropped because a subscriber channel was full",
		},
	)
)
