package memory

import (
	"testing"
	"time"

	"cardctl/pkg/metrics"
)

var _ metrics.Collector = (*MemoryCollector)(nil)

func TestMemoryCollector_StoreOps(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordStoreOp("redis", "get", true, time.Millisecond)
	mc.RecordStoreOp("redis", "get", false, 2*time.Millisecond)
	mc.RecordStoreOp("redis", "scan", true, time.Millisecond)

	bm := mc.GetBackendMetrics("redis")
	if bm == nil {
		t.Fatal("Expected redis metrics")
	}
	if bm.Ops["get"] != 2 || bm.Ops["scan"] != 1 {
		t.Errorf("Unexpected op counts: %v", bm.Ops)
	}
	if bm.Errors != 1 || len(bm.Latencies) != 3 {
		t.Errorf("Expected 1 error and 3 latencies, got %d and %d", bm.Errors, len(bm.Latencies))
	}
	if mc.GetBackendMetrics("postgres") != nil {
		t.Error("Expected nil for an unused backend")
	}
}

func TestMemoryCollector_CircuitOpens(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordCircuitState("bolt", metrics.CircuitOpen)
	mc.RecordCircuitState("bolt", metrics.CircuitOpen)
	mc.RecordCircuitState("bolt", metrics.CircuitHalfOpen)
	mc.RecordCircuitState("bolt", metrics.CircuitOpen)

	bm := mc.GetBackendMetrics("bolt")
	if bm.CircuitOpens != 2 {
		t.Errorf("Expected 2 opens, got %d", bm.CircuitOpens)
	}
	if bm.CircuitState != metrics.CircuitOpen {
		t.Errorf("Expected open, got %s", bm.CircuitState)
	}
}

func TestMemoryCollector_SnapshotIsCopy(t *testing.T) {
	mc := NewMemoryCollector()
	mc.RecordAuthorization(metrics.OutcomeDenied, "mcc_blocked", time.Millisecond)
	mc.RecordAuthorization(metrics.OutcomeApproved, "", time.Millisecond)
	mc.RecordLifecycle("post", "ok", time.Millisecond)
	mc.RecordStoreOp("memory", "put", true, time.Millisecond)

	snap := mc.Snapshot()
	snap.Authorizations["approved"] = 100
	snap.Lifecycle["post"]["ok"] = 100
	snap.Backends["memory"].Ops["put"] = 100

	again := mc.Snapshot()
	if again.Authorizations["approved"] != 1 || again.DenialReasons["mcc_blocked"] != 1 {
		t.Errorf("Unexpected authorization state: %v %v", again.Authorizations, again.DenialReasons)
	}
	if _, ok := again.DenialReasons[""]; ok {
		t.Error("Approvals must not record an empty reason")
	}
	if mc.LifecycleCount("post", "ok") != 1 || again.Backends["memory"].Ops["put"] != 1 {
		t.Error("Snapshot shares state with the collector")
	}

	mc.Reset()
	if len(mc.Snapshot().Authorizations) != 0 || mc.LifecycleCount("post", "ok") != 0 {
		t.Error("Reset left metrics behind")
	}
}
