package metrics

import (
	"time"
)

// Collector defines the interface for collecting card program metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory, etc.).
type Collector interface {
	// Ledger backend operations (get, put, delete, scan)
	RecordStoreOp(backend, operation string, success bool, duration time.Duration)

	// Circuit breaker
	RecordCircuitState(backend string, state CircuitState)

	// Authorization decisions. outcome is approved, denied or error; reason
	// is the denial code or the error class.
	RecordAuthorization(outcome, reason string, duration time.Duration)

	// Lifecycle and card operations. result is a model.ClassifyError label.
	RecordLifecycle(operation, result string, duration time.Duration)
}

// Authorization outcomes.
const (
	OutcomeApproved = "approved"
	OutcomeDenied   = "denied"
	OutcomeError    = "error"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the backend has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of Collector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordStoreOp does nothing.
func (NoOpCollector) RecordStoreOp(backend, operation string, success bool, duration time.Duration) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(backend string, state CircuitState) {}

// RecordAuthorization does nothing.
func (NoOpCollector) RecordAuthorization(outcome, reason string, duration time.Duration) {}

// RecordLifecycle does nothing.
func (NoOpCollector) RecordLifecycle(operation, result string, duration time.Duration) {}
