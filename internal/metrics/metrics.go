package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "huddle_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_ws_connections_active",
			Help: "Currently registered realtime connections",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_ws_connections_rejected_total",
			Help: "Handshakes refused before upgrade",
		},
		[]string{"reason"},
	)

	SlowConsumerDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_ws_slow_consumer_disconnects_total",
			Help: "Connections closed because their event buffer was full",
		},
	)

	PresenceUsers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "huddle_presence_users",
			Help: "Users per aggregate presence status",
		},
		[]string{"status"}, // "online" or "away"
	)

	PresenceExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_presence_inactivity_expirations_total",
			Help: "Inactivity timers that moved a user to away",
		},
	)

	// Business metrics
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_messages_persisted_total",
			Help: "Messages persisted by kind",
		},
		[]string{"kind"},
	)

	DispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_dispatch_failures_total",
			Help: "Inbound messages rejected or lost, by kind and error code",
		},
		[]string{"kind", "code"},
	)

	MessagesModerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_messages_moderated_total",
			Help: "Messages overwritten by moderators",
		},
		[]string{"kind"},
	)

	Deliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_event_deliveries_total",
			Help: "Events enqueued to connections by the hub",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "huddle_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"op"},
	)
)
