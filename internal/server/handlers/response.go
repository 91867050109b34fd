// internal/server/handlers/response.go

package handlers

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"marketfinder/internal/logging"
	"marketfinder/internal/validation"
)

type errorResponse struct {
	Error   string                       `json:"error"`
	Details []validation.ValidationError `json:"details,omitempty"`
}

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, r *http.Request, code int, message string, err error) {
	response := errorResponse{Error: message}

	var verr *validation.RequestValidationError
	if errors.As(err, &verr) {
		response.Details = verr.Errors
	}

	if err != nil && code >= 500 {
		logging.Ctx(r.Context()).Error().Err(err).Int("code", code).Str("path", r.URL.Path).Msg(message)
	}

	respondWithJSON(w, code, response)
}
