package prometheus

import (
	"time"

	"cardctl/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements metrics.Collector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Ledger backend
	storeOps     *prometheus.CounterVec
	storeErrors  *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Authorization
	authorizations *prometheus.CounterVec
	authLatency    *prometheus.HistogramVec

	// Lifecycle
	lifecycleOps     *prometheus.CounterVec
	lifecycleLatency *prometheus.HistogramVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	pc := &PrometheusCollector{
		namespace: namespace,
		storeOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of ledger operations per backend and operation",
			},
			[]string{"backend", "operation"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of failed ledger operations per backend and operation",
			},
			[]string{"backend", "operation"},
		),
		storeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Ledger operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to ~3s
			},
			[]string{"backend", "operation"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens per backend",
			},
			[]string{"backend"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state per backend (0=closed, 1=open, 2=half-open)",
			},
			[]string{"backend"},
		),
		authorizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorizations_total",
				Help:      "Total number of authorization decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		authLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "authorization_duration_seconds",
				Help:      "Authorization latency including the spend window lookup",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"outcome"},
		),
		lifecycleOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_operations_total",
				Help:      "Total number of lifecycle operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		lifecycleLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lifecycle_operation_duration_seconds",
				Help:      "Lifecycle operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"operation"},
		),
	}

	return pc
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.storeOps,
		pc.storeErrors,
		pc.storeLatency,
		pc.circuitOpens,
		pc.circuitState,
		pc.authorizations,
		pc.authLatency,
		pc.lifecycleOps,
		pc.lifecycleLatency,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordStoreOp records a ledger backend operation.
func (pc *PrometheusCollector) RecordStoreOp(backend, operation string, success bool, duration time.Duration) {
	pc.storeOps.WithLabelValues(backend, operation).Inc()
	if !success {
		pc.storeErrors.WithLabelValues(backend, operation).Inc()
	}
	pc.storeLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(backend string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(backend).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(backend).Inc()
	}
}

// RecordAuthorization records one authorization decision.
func (pc *PrometheusCollector) RecordAuthorization(outcome, reason string, duration time.Duration) {
	pc.authorizations.WithLabelValues(outcome, reason).Inc()
	pc.authLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordLifecycle records a lifecycle or card operation.
func (pc *PrometheusCollector) RecordLifecycle(operation, result string, duration time.Duration) {
	pc.lifecycleOps.WithLabelValues(operation, result).Inc()
	pc.lifecycleLatency.WithLabelValues(operation).Observe(duration.Seconds())
}
