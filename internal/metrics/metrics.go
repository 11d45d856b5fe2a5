// Package metrics exposes the gateway's Prometheus collectors on a
// dedicated registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the gateway-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "entity_gateway",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entity_gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "entity_gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	idempotentReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "entity_gateway",
			Subsystem: "idempotency",
			Name:      "replays_total",
			Help:      "Total number of responses served from idempotency records.",
		},
	)

	idempotencyConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "entity_gateway",
			Subsystem: "idempotency",
			Name:      "conflicts_total",
			Help:      "Total number of idempotency key conflicts rejected.",
		},
	)

	transactOps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "entity_gateway",
			Subsystem: "transact",
			Name:      "ops_per_request",
			Help:      "Number of operations per transact request.",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		idempotentReplays,
		idempotencyConflicts,
		transactOps,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight bumps the in-flight gauge.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight drops the in-flight gauge.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordIdempotentReplay counts a response served from a stored record.
func RecordIdempotentReplay() { idempotentReplays.Inc() }

// RecordIdempotencyConflict counts a rejected key reuse.
func RecordIdempotencyConflict() { idempotencyConflicts.Inc() }

// RecordTransactOps observes the size of a transact request.
func RecordTransactOps(n int) { transactOps.Observe(float64(n)) }
