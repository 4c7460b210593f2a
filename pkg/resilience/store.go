package resilience

import (
	"context"
	"errors"
	"time"

	"cardctl/pkg/ledger"
	"cardctl/pkg/logging"
	"cardctl/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientStore wraps a ledger.Store with a circuit breaker and a per-call
// timeout. Missing records are normal outcomes and never count as failures.
type ResilientStore struct {
	store   ledger.Store
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.Collector
	logger  *logging.Logger
}

// NewResilientStore creates a new resilient wrapper around the given store.
func NewResilientStore(store ledger.Store, config ResilientConfig) *ResilientStore {
	return NewResilientStoreWithMetrics(store, config, metrics.NoOpCollector{})
}

// NewResilientStoreWithMetrics creates a new resilient store with a custom metrics collector.
func NewResilientStoreWithMetrics(store ledger.Store, config ResilientConfig, collector metrics.Collector) *ResilientStore {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	logger := logging.Global().Named("resilience").Named(store.Name())

	rs := &ResilientStore{
		store:   store,
		timeout: config.Timeout,
		metrics: collector,
		logger:  logger,
	}

	logger.Info("resilient store initialized",
		zap.String("backend", store.Name()),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	trip := config.CircuitBreakerConfig.readyToTrip()
	settings := gobreaker.Settings{
		Name:        store.Name(),
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return trip(Counts{
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
			})
		},
		IsSuccessful: func(err error) bool {
			// Absent records and bad ids say nothing about backend health.
			return err == nil || errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrInvalidKey)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("backend", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			rs.metrics.RecordCircuitState(name, state)
		},
	}

	rs.cb = gobreaker.NewCircuitBreaker(settings)

	return rs
}

// execute runs fn through the breaker under the configured timeout, records
// the outcome and maps breaker and deadline errors to ledger errors.
func (rs *ResilientStore) execute(ctx context.Context, operation string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()

	if rs.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.timeout)
		defer cancel()
	}

	result, err := rs.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})

	duration := time.Since(start)
	success := err == nil || ledger.IsNotFound(err)
	rs.metrics.RecordStoreOp(rs.store.Name(), operation, success, duration)

	if err == nil || ledger.IsNotFound(err) {
		return result, err
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		rs.logger.Warn("circuit breaker open - request rejected",
			zap.String("operation", operation),
		)
		return nil, ledger.ErrCircuitOpen
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		rs.logger.Warn("operation timeout",
			zap.String("operation", operation),
			zap.Duration("timeout", rs.timeout),
			zap.Duration("elapsed", duration),
		)
		return nil, ledger.ErrTimeout
	}

	rs.logger.Error("ledger operation failed",
		zap.String("operation", operation),
		zap.Duration("duration", duration),
		zap.Error(err),
	)
	return nil, err
}

// Name returns the name of the underlying store.
func (rs *ResilientStore) Name() string {
	return rs.store.Name()
}

func (rs *ResilientStore) Get(ctx context.Context, kind ledger.Kind, id string) (*ledger.Record, error) {
	result, err := rs.execute(ctx, "get", func(ctx context.Context) (interface{}, error) {
		return rs.store.Get(ctx, kind, id)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ledger.Record), nil
}

func (rs *ResilientStore) Put(ctx context.Context, rec *ledger.Record) error {
	_, err := rs.execute(ctx, "put", func(ctx context.Context) (interface{}, error) {
		return nil, rs.store.Put(ctx, rec)
	})
	return err
}

func (rs *ResilientStore) Delete(ctx context.Context, kind ledger.Kind, id string) error {
	_, err := rs.execute(ctx, "delete", func(ctx context.Context) (interface{}, error) {
		return nil, rs.store.Delete(ctx, kind, id)
	})
	return err
}

func (rs *ResilientStore) Scan(ctx context.Context, kind ledger.Kind, filter ledger.Filter) ([]*ledger.Record, error) {
	result, err := rs.execute(ctx, "scan", func(ctx context.Context) (interface{}, error) {
		return rs.store.Scan(ctx, kind, filter)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*ledger.Record), nil
}

// State reports the current breaker state.
func (rs *ResilientStore) State() metrics.CircuitState {
	switch rs.cb.State() {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// Close closes the underlying store.
func (rs *ResilientStore) Close() error {
	return rs.store.Close()
}
