package model

import (
	"errors"
	"fmt"
	"strings"
)

// Outcome errors returned by the card and lifecycle services.
// Callers map them to user-facing results; none of them is retried.
var (
	// ErrNotFound is returned when an entity is missing or owned by another user.
	// The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed parameters
	ErrValidation = errors.New("validation error")

	// ErrInvalidTransition is returned when a state-machine precondition is violated
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrExpired is returned when a share link is read after its expiry
	ErrExpired = errors.New("expired")

	// ErrDenied matches every *DenialError
	ErrDenied = errors.New("denied")
)

// Reason is a denial reason code produced by the control evaluator.
type Reason string

const (
	ReasonCardInactive           Reason = "card_inactive"
	ReasonPresentmentBlocked     Reason = "presentment_blocked"
	ReasonMerchantNotWhitelisted Reason = "merchant_not_whitelisted"
	ReasonMCCBlocked             Reason = "mcc_blocked"
	ReasonCountryBlocked         Reason = "country_blocked"
	ReasonSpendLimitExceeded     Reason = "spend_limit_exceeded"
)

// DenialError is a business-rule refusal. It is a normal outcome, not a fault.
type DenialError struct {
	Reason Reason
}

func (e *DenialError) Error() string {
	return "authorization denied: " + string(e.Reason)
}

// Is lets errors.Is(err, ErrDenied) match any denial.
func (e *DenialError) Is(target error) bool {
	return target == ErrDenied
}

// Deny builds a denial error for reason.
func Deny(reason Reason) error {
	return &DenialError{Reason: reason}
}

// DenialReason extracts the reason code from err, if it is a denial.
func DenialReason(err error) (Reason, bool) {
	var d *DenialError
	if errors.As(err, &d) {
		return d.Reason, true
	}
	return "", false
}

// Validationf returns an ErrValidation wrapping a formatted detail.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transitionf returns an ErrInvalidTransition wrapping a formatted detail.
func Transitionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}

// IsNotFound checks if err is a not-found outcome.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDenied checks if err is an authorization denial.
func IsDenied(err error) bool {
	return errors.Is(err, ErrDenied)
}

// ClassifyError returns a short label for err, used as a metrics label.
func ClassifyError(err error) string {
	if err == nil {
		return "ok"
	}

	switch {
	case errors.Is(err, ErrDenied):
		return "denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrExpired):
		return "expired"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "circuit"):
		return "circuit_open"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return "timeout"
	default:
		return "internal"
	}
}
