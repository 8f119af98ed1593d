// Shared helpers for the HTTP handlers: JSON writing and error mapping.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/preflightlabs/preflight/internal/domain/coaching"
)

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeDomainError maps coaching sentinel errors onto HTTP status codes.
// Anything unrecognized becomes a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coaching.ErrSessionNotFound),
		errors.Is(err, coaching.ErrPipelineNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, coaching.ErrSessionExists),
		errors.Is(err, coaching.ErrPipelineNameTaken),
		errors.Is(err, coaching.ErrRoundConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, coaching.ErrSessionNotActive),
		errors.Is(err, coaching.ErrSessionCompleted),
		errors.Is(err, coaching.ErrRoundsExhausted),
		errors.Is(err, coaching.ErrEmptyMessage),
		errors.Is(err, coaching.ErrInvalidPipeline):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, coaching.ErrProviderUnavailable),
		errors.Is(err, coaching.ErrGenerationFailed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
