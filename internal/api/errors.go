package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/timerly-core/internal/command"
	"github.com/nerrad567/timerly-core/internal/coordinator"
	"github.com/nerrad567/timerly-core/internal/discovery"
	"github.com/nerrad567/timerly-core/internal/entity"
	"github.com/nerrad567/timerly-core/internal/integration"
)

// Error is the body of every error response, wrapped as {"error": {...}}.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error Error `json:"error"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeBadGateway   = "device_error"
	ErrCodeUnavailable  = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: Error{
		Status:  status,
		Code:    code,
		Message: message,
	}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps errors from the core packages to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var derr *command.DeviceError
	switch {
	case errors.Is(err, integration.ErrUnknownService),
		errors.Is(err, integration.ErrEntityNotFound),
		errors.Is(err, discovery.ErrDeviceNotFound),
		errors.Is(err, entity.ErrNotFound),
		errors.Is(err, command.ErrNoDevices):
		writeNotFound(w, err.Error())
	case errors.Is(err, command.ErrInvalidRequest),
		errors.Is(err, command.ErrNoDuration),
		errors.Is(err, command.ErrEndTimeInPast),
		errors.Is(err, discovery.ErrInvalidEvent),
		errors.Is(err, entity.ErrInvalidOption):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.As(err, &derr), errors.Is(err, coordinator.ErrUpdateFailed):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	case errors.Is(err, integration.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
