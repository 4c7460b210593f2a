package memory

import (
	"sync"
	"time"

	"cardctl/pkg/metrics"
)

// MemoryCollector implements metrics.Collector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	// Per-backend metrics
	backendMetrics map[string]*BackendMetrics

	// Authorization outcomes and denial reasons
	authorizations map[string]int64
	reasons        map[string]int64

	// Lifecycle results keyed by operation then result
	lifecycle map[string]map[string]int64
}

// BackendMetrics holds metrics for a single ledger backend.
type BackendMetrics struct {
	// Operation counts by operation name
	Ops    map[string]int64
	Errors int64

	// Circuit breaker
	CircuitState metrics.CircuitState
	CircuitOpens int64

	Latencies []time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		backendMetrics: make(map[string]*BackendMetrics),
		authorizations: make(map[string]int64),
		reasons:        make(map[string]int64),
		lifecycle:      make(map[string]map[string]int64),
	}
}

// backend returns the metrics for name, creating them if needed.
// Callers must hold mc.mu.
func (mc *MemoryCollector) backend(name string) *BackendMetrics {
	bm, ok := mc.backendMetrics[name]
	if !ok {
		bm = &BackendMetrics{Ops: make(map[string]int64)}
		mc.backendMetrics[name] = bm
	}
	return bm
}

// RecordStoreOp records a ledger backend operation.
func (mc *MemoryCollector) RecordStoreOp(backend, operation string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	bm := mc.backend(backend)
	bm.Ops[operation]++
	if !success {
		bm.Errors++
	}
	bm.Latencies = append(bm.Latencies, duration)
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(backend string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	bm := mc.backend(backend)
	oldState := bm.CircuitState
	bm.CircuitState = state

	// Count transitions to open
	if oldState != metrics.CircuitOpen && state == metrics.CircuitOpen {
		bm.CircuitOpens++
	}
}

// RecordAuthorization records one authorization decision.
func (mc *MemoryCollector) RecordAuthorization(outcome, reason string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.authorizations[outcome]++
	if reason != "" {
		mc.reasons[reason]++
	}
}

// RecordLifecycle records a lifecycle or card operation.
func (mc *MemoryCollector) RecordLifecycle(operation, result string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	byResult, ok := mc.lifecycle[operation]
	if !ok {
		byResult = make(map[string]int64)
		mc.lifecycle[operation] = byResult
	}
	byResult[result]++
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	Backends       map[string]BackendMetrics
	Authorizations map[string]int64
	DenialReasons  map[string]int64
	Lifecycle      map[string]map[string]int64
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := Snapshot{
		Backends:       make(map[string]BackendMetrics, len(mc.backendMetrics)),
		Authorizations: make(map[string]int64, len(mc.authorizations)),
		DenialReasons:  make(map[string]int64, len(mc.reasons)),
		Lifecycle:      make(map[string]map[string]int64, len(mc.lifecycle)),
	}

	for name, bm := range mc.backendMetrics {
		c := *bm
		c.Ops = make(map[string]int64, len(bm.Ops))
		for op, n := range bm.Ops {
			c.Ops[op] = n
		}
		c.Latencies = append([]time.Duration(nil), bm.Latencies...)
		snapshot.Backends[name] = c
	}
	for k, v := range mc.authorizations {
		snapshot.Authorizations[k] = v
	}
	for k, v := range mc.reasons {
		snapshot.DenialReasons[k] = v
	}
	for op, byResult := range mc.lifecycle {
		c := make(map[string]int64, len(byResult))
		for r, n := range byResult {
			c[r] = n
		}
		snapshot.Lifecycle[op] = c
	}

	return snapshot
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.backendMetrics = make(map[string]*BackendMetrics)
	mc.authorizations = make(map[string]int64)
	mc.reasons = make(map[string]int64)
	mc.lifecycle = make(map[string]map[string]int64)
}

// GetBackendMetrics returns a copy of the metrics for one backend, or nil.
func (mc *MemoryCollector) GetBackendMetrics(backend string) *BackendMetrics {
	snap := mc.Snapshot()
	if bm, ok := snap.Backends[backend]; ok {
		return &bm
	}
	return nil
}

// LifecycleCount returns how often operation finished with result.
func (mc *MemoryCollector) LifecycleCount(operation, result string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.lifecycle[operation][result]
}
