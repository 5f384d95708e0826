package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tether_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Authentication metrics
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_auth_attempts_total",
			Help: "Authentication attempts by key kind and outcome",
		},
		[]string{"kind", "result"},
	)

	KeyCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_key_cache_lookups_total",
			Help: "Key validation cache lookups",
		},
		[]string{"result"}, // "hit" or "miss"
	)

	// Realtime metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_events_published_total",
			Help: "Realtime events published",
		},
		[]string{"kind"},
	)

	EventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tether_event_publish_failures_total",
			Help: "Publish calls aborted by a channel push failure",
		},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_events_delivered_total",
			Help: "Validated events handed to subscriber handlers",
		},
		[]string{"kind"},
	)

	// Malformed payloads are dropped, never surfaced as errors; this
	// counter is how payload-shape drift gets noticed.
	DroppedPayloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tether_dropped_payloads_total",
			Help: "Realtime payloads dropped for failing schema validation",
		},
	)

	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_messages_posted_total",
			Help: "Messages posted by author type",
		},
		[]string{"author_type"},
	)

	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tether_realtime_connections",
			Help: "Currently attached realtime clients",
		},
	)
)
