// Package metrics declares the Prometheus instrumentation for campuspulse.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Live subscriptions
	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campuspulse_subscriptions_active",
			Help: "Number of open live query subscriptions",
		},
	)

	SnapshotsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuspulse_snapshots_delivered_total",
			Help: "Snapshots delivered to subscribers",
		},
		[]string{"collection"},
	)

	SnapshotsSuperseded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campuspulse_snapshots_superseded_total",
			Help: "Buffered snapshots replaced by a newer one before being read",
		},
	)

	StaleSnapshotsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campuspulse_stale_snapshots_dropped_total",
			Help: "Snapshots discarded because their subscription was replaced",
		},
	)

	SubscriptionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuspulse_subscription_errors_total",
			Help: "Subscription read failures by kind",
		},
		[]string{"collection", "kind"}, // "permission", "transient"
	)

	// Store access
	PermissionDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuspulse_permission_denials_total",
			Help: "Store operations rejected by the access policy",
		},
		[]string{"op"},
	)

	// Generative model endpoint
	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campuspulse_model_call_duration_seconds",
			Help:    "Latency of generative model calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"flow"},
	)

	ModelCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuspulse_model_call_errors_total",
			Help: "Failed generative model calls",
		},
		[]string{"flow", "kind"}, // "unavailable", "malformed"
	)

	ModelBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campuspulse_model_breaker_state",
			Help: "Model endpoint circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Realtime
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campuspulse_websocket_clients",
			Help: "Connected live chart clients",
		},
	)

	// Writes
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuspulse_records_written_total",
			Help: "Records created or updated through the API",
		},
		[]string{"collection"},
	)

	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuspulse_alerts_published_total",
			Help: "Emergency reports fanned out to the broker",
		},
		[]string{"result"}, // "ok", "error"
	)

	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campuspulse_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// ObserveModelCall records one model call's latency.
func ObserveModelCall(flow string, start time.Time) {
	ModelCallDuration.WithLabelValues(flow).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
