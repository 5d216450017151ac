// Package telemetry provides observability primitives for the gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	UpstreamDuration *prometheus.HistogramVec // labels: provider, task
	UpstreamErrors   *prometheus.CounterVec   // labels: provider, kind

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	CircuitBreakerState   *prometheus.GaugeVec   // labels: provider
	CircuitBreakerRejects *prometheus.CounterVec // labels: provider
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgrouter",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "imgrouter",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imgrouter",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imgrouter",
			Name:      "upstream_duration_seconds",
			Help:      "Provider adapter call duration in seconds.",
		}, []string{"provider", "task"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgrouter",
			Name:      "upstream_errors_total",
			Help:      "Total provider adapter call failures.",
		}, []string{"provider", "kind"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imgrouter",
			Name:      "cache_hits_total",
			Help:      "Total HuggingFace space-pool health cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imgrouter",
			Name:      "cache_misses_total",
			Help:      "Total HuggingFace space-pool health cache misses.",
		}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "imgrouter",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half_open).",
		}, []string{"provider"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgrouter",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by the circuit breaker before reaching a provider.",
		}, []string{"provider"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.CacheHits,
		m.CacheMisses,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
	)

	return m
}
