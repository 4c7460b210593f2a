package resilience

import (
	"testing"
	"time"
)

func TestDefaultResilientConfig(t *testing.T) {
	config := DefaultResilientConfig()

	if config.Timeout != 2*time.Second {
		t.Errorf("Expected timeout 2s, got %v", config.Timeout)
	}

	if config.CircuitBreakerConfig.MaxRequests != 1 {
		t.Errorf("Expected MaxRequests 1, got %d", config.CircuitBreakerConfig.MaxRequests)
	}

	if config.CircuitBreakerConfig.Timeout != 10*time.Second {
		t.Errorf("Expected CB timeout 10s, got %v", config.CircuitBreakerConfig.Timeout)
	}

	trip := config.CircuitBreakerConfig.readyToTrip()
	if trip(Counts{ConsecutiveFailures: 4}) {
		t.Error("Should not trip with 4 failures")
	}
	if !trip(Counts{ConsecutiveFailures: 5}) {
		t.Error("Should trip with 5 failures")
	}
}

func TestCircuitBreakerConfig_CustomReadyToTrip(t *testing.T) {
	config := CircuitBreakerConfig{
		ConsecutiveFailures: 100,
		ReadyToTrip: func(counts Counts) bool {
			return counts.TotalFailures >= 2
		},
	}

	trip := config.readyToTrip()
	if !trip(Counts{TotalFailures: 2}) {
		t.Error("Custom ReadyToTrip should take precedence over ConsecutiveFailures")
	}
}

func TestResilientConfig_WithTimeout(t *testing.T) {
	config := DefaultResilientConfig()
	newConfig := config.WithTimeout(500 * time.Millisecond)

	if newConfig.Timeout != 500*time.Millisecond {
		t.Errorf("Expected timeout 500ms, got %v", newConfig.Timeout)
	}

	// Verify original is unchanged
	if config.Timeout != 2*time.Second {
		t.Errorf("Original config changed: got %v", config.Timeout)
	}
}

func TestResilientConfig_WithCircuitBreakerTimeout(t *testing.T) {
	config := DefaultResilientConfig()
	newConfig := config.WithCircuitBreakerTimeout(20 * time.Second)

	if newConfig.CircuitBreakerConfig.Timeout != 20*time.Second {
		t.Errorf("Expected CB timeout 20s, got %v", newConfig.CircuitBreakerConfig.Timeout)
	}

	if config.CircuitBreakerConfig.Timeout != 10*time.Second {
		t.Errorf("Original config changed: got %v", config.CircuitBreakerConfig.Timeout)
	}
}
