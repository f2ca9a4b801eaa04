package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/review-reconciler/internal/backfill"
	"github.com/review-reconciler/internal/storage"
	"github.com/review-reconciler/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// respondServiceError maps domain errors to HTTP responses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "resource not found", nil)
	case errors.Is(err, storage.ErrAlreadyInProgress):
		respondError(w, http.StatusConflict, ErrCodeConflict, "a backfill job for this product is already active", nil)
	case errors.Is(err, storage.ErrInvalidTransition):
		respondError(w, http.StatusConflict, ErrCodeInvalidTransition, "the requested transition is not allowed from the current status", nil)
	case errors.Is(err, storage.ErrAlreadyTerminal):
		respondError(w, http.StatusConflict, ErrCodeConflict, "the job is already in a terminal status", nil)
	case errors.Is(err, backfill.ErrNothingToBackfill):
		respondError(w, http.StatusUnprocessableEntity, ErrCodeInvalidInput, err.Error(), nil)
	default:
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred", nil)
	}
}
