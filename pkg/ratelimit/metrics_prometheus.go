package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements RateLimitMetrics using Prometheus.
//
// All metrics use a custom registry so tests and multiple limiters stay
// isolated. Expose it with promhttp.HandlerFor or merge it into a gatherer.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// decisionsTotal counts consumes by key kind and outcome.
	// Labels: key_kind ("user", "ip", ...), status ("allowed" or "denied")
	decisionsTotal *prometheus.CounterVec

	// operationDuration tracks limiter operations including the store round trip.
	// Labels: operation ("consume", "check", "reset")
	operationDuration *prometheus.HistogramVec

	// storeErrorsTotal counts backing store failures.
	// Labels: operation
	storeErrorsTotal *prometheus.CounterVec

	// activeKeys is the number of buckets currently held.
	// Labels: backend ("memory", "redis")
	activeKeys *prometheus.GaugeVec

	// circuitState: 0=closed, 1=open, 2=half-open.
	// Labels: name
	circuitState *prometheus.GaugeVec

	// evictionsTotal counts expired buckets dropped to make room.
	// Labels: backend
	evictionsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance with a custom registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limit consume decisions by key kind and status",
		},
		[]string{"key_kind", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratelimit_operation_duration_seconds",
			Help:    "Duration of rate limiter operations",
			Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	storeErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Backing store failures by operation",
		},
		[]string{"operation"},
	)

	activeKeys := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ratelimit_active_keys",
			Help: "Current number of buckets by backend",
		},
		[]string{"backend"},
	)

	circuitState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ratelimit_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	evictionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_evictions_total",
			Help: "Expired buckets dropped from a full shard by backend",
		},
		[]string{"backend"},
	)

	registry.MustRegister(
		decisionsTotal,
		operationDuration,
		storeErrorsTotal,
		activeKeys,
		circuitState,
		evictionsTotal,
	)

	return &PrometheusMetrics{
		registry:          registry,
		decisionsTotal:    decisionsTotal,
		operationDuration: operationDuration,
		storeErrorsTotal:  storeErrorsTotal,
		activeKeys:        activeKeys,
		circuitState:      circuitState,
		evictionsTotal:    evictionsTotal,
	}
}

// Registry returns the Prometheus registry containing all rate limit metrics.
//
//	metrics := NewPrometheusMetrics()
//	http.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAllowed records an allowed consume.
func (m *PrometheusMetrics) RecordAllowed(keyKind string) {
	m.decisionsTotal.WithLabelValues(keyKind, "allowed").Inc()
}

// RecordDenied records a denied consume.
func (m *PrometheusMetrics) RecordDenied(keyKind string) {
	m.decisionsTotal.WithLabelValues(keyKind, "denied").Inc()
}

// RecordCheckDuration records the duration of a limiter operation.
func (m *PrometheusMetrics) RecordCheckDuration(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStoreError records a backing store failure.
func (m *PrometheusMetrics) RecordStoreError(operation string) {
	m.storeErrorsTotal.WithLabelValues(operation).Inc()
}

// SetActiveKeys records the current number of buckets held by a backend.
func (m *PrometheusMetrics) SetActiveKeys(backend string, count int) {
	m.activeKeys.WithLabelValues(backend).Set(float64(count))
}

// RecordCircuitState records the current state of a circuit breaker.
//
// The state is mapped to a numeric gauge for alerting:
//   - 0 = closed
//   - 1 = open
//   - 2 = half-open
func (m *PrometheusMetrics) RecordCircuitState(name, state string) {
	var stateValue float64
	switch state {
	case "open":
		stateValue = 1
	case "half-open":
		stateValue = 2
	default:
		stateValue = 0
	}
	m.circuitState.WithLabelValues(name).Set(stateValue)
}

// RecordEviction records expired buckets dropped from a full shard.
//
// A high rate on the memory backend means shards keep filling up, usually
// from many distinct clients or a flood of spoofed addresses.
func (m *PrometheusMetrics) RecordEviction(backend string, count int) {
	m.evictionsTotal.WithLabelValues(backend).Add(float64(count))
}
