package ledger

import (
	"errors"
	"fmt"
)

// Backend errors. Store implementations return these so callers can tell a
// missing record from an unhealthy backend.
var (
	// ErrNotFound is returned when no record exists under the requested key
	ErrNotFound = errors.New("ledger: record not found")

	// ErrInvalidKey is returned when a kind or id is unusable
	ErrInvalidKey = errors.New("ledger: invalid key")

	// ErrUnavailable is returned when a backend is temporarily unavailable
	ErrUnavailable = errors.New("ledger: backend unavailable")

	// ErrTimeout is returned when a backend operation times out
	ErrTimeout = errors.New("ledger: operation timeout")

	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("ledger: circuit breaker open")
)

// IsNotFound checks if the given error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable checks if the given error means the backend could not serve
// the request at all (open circuit, timeout, unavailable).
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrCircuitOpen)
}

// WrapError wraps an error with the backend and operation that produced it.
func WrapError(err error, backend string, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ledger %s %s: %w", backend, operation, err)
}
