package resilience

import (
	"time"
)

// ResilientConfig configures resilience features for a ledger backend.
type ResilientConfig struct {
	// Timeout for each ledger operation. Zero disables it.
	Timeout time.Duration `mapstructure:"timeout"`

	// CircuitBreakerConfig configures the circuit breaker behavior
	CircuitBreakerConfig CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the CircuitBreaker is half-open. Default: 1
	MaxRequests uint32 `mapstructure:"max_requests"`

	// Interval is the cyclic period of the closed state for the CircuitBreaker
	// to clear the internal counts. If Interval is 0, it never clears.
	Interval time.Duration `mapstructure:"interval"`

	// Timeout is the period of the open state after which the state becomes half-open.
	Timeout time.Duration `mapstructure:"timeout"`

	// ConsecutiveFailures trips the breaker when ReadyToTrip is nil.
	ConsecutiveFailures uint32 `mapstructure:"consecutive_failures"`

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	// If ReadyToTrip returns true, the CircuitBreaker will be placed into the open state.
	ReadyToTrip func(counts Counts) bool `mapstructure:"-"`
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultResilientConfig returns the defaults used by cardd: a 2s operation
// timeout and a breaker that opens after 5 consecutive backend failures.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: 2 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests:         1,
			Interval:            60 * time.Second,
			Timeout:             10 * time.Second,
			ConsecutiveFailures: 5,
		},
	}
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c ResilientConfig) WithTimeout(timeout time.Duration) ResilientConfig {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy of the config with the specified circuit breaker timeout.
func (c ResilientConfig) WithCircuitBreakerTimeout(timeout time.Duration) ResilientConfig {
	c.CircuitBreakerConfig.Timeout = timeout
	return c
}

// readyToTrip resolves the trip predicate.
func (c CircuitBreakerConfig) readyToTrip() func(Counts) bool {
	if c.ReadyToTrip != nil {
		return c.ReadyToTrip
	}
	threshold := c.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	return func(counts Counts) bool {
		return counts.ConsecutiveFailures >= threshold
	}
}
