package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/logging"
	"github.com/mls-sync/internal/types"
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

	_ = json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// respondServiceError maps a service error onto the error envelope.
// Internal causes are logged, never echoed to the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	svcErr := catErr.ToServiceError()

	if apperrors.IsSystemError(catErr) {
		logging.FromContext(r.Context()).WithError(err).Error("[API] Request failed")
		svcErr.Details = nil
	}
	respondError(w, catErr.StatusCode, svcErr.Code, svcErr.Message, svcErr.Details)
}
