package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"cardctl/pkg/auth"
	"cardctl/pkg/ledger"
	"cardctl/pkg/model"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	if reason, ok := model.DenialReason(err); ok {
		if reason == model.ReasonSpendLimitExceeded {
			return http.StatusPaymentRequired
		}
		return http.StatusForbidden
	}

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrExpired):
		return http.StatusGone
	case ledger.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if reason, ok := model.DenialReason(err); ok {
		body.Reason = string(reason)
	}
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		// Backend detail stays in the logs.
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads the request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return model.Validationf("invalid request body: %v", err)
	}
	return nil
}
