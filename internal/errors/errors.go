package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/mls-sync/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuthentication represents a provider rejecting our credentials
	CategoryAuthentication ErrorCategory = "authentication"
	// CategoryTransientNetwork represents timeouts, connection resets, 5xx and 429 responses
	CategoryTransientNetwork ErrorCategory = "transient_network"
	// CategoryProvider represents non-retryable provider errors (4xx other than 401/429)
	CategoryProvider ErrorCategory = "provider"
	// CategoryPersistence represents store write or read failures
	CategoryPersistence ErrorCategory = "persistence"
	// CategoryDataShape represents malformed record fields (warning)
	CategoryDataShape ErrorCategory = "data_shape"
	// CategoryUnresolvedAgent represents a listing whose agent could not be resolved (warning)
	CategoryUnresolvedAgent ErrorCategory = "unresolved_agent"
	// CategoryValidation represents invalid caller input
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryRateLimit represents inbound rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Provider errors

// NewAuthenticationError creates an error for credentials the provider rejected
func NewAuthenticationError(source string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthentication,
		StatusCode: http.StatusBadGateway,
		Code:       "AUTHENTICATION_FAILED",
		Message:    fmt.Sprintf("provider rejected credentials for source %s", source),
		Cause:      cause,
		Details: map[string]interface{}{
			"source": source,
		},
	}
}

// NewTransientNetworkError creates a retryable provider communication error
func NewTransientNetworkError(source string, statusCode int, cause error) *CategorizedError {
	details := map[string]interface{}{
		"source": source,
	}
	if statusCode != 0 {
		details["upstreamStatus"] = statusCode
	}
	return &CategorizedError{
		Category:   CategoryTransientNetwork,
		StatusCode: http.StatusBadGateway,
		Code:       "TRANSIENT_NETWORK_ERROR",
		Message:    fmt.Sprintf("transient error talking to source %s", source),
		Cause:      cause,
		Details:    details,
	}
}

// NewProviderError creates a non-retryable provider error
func NewProviderError(source string, statusCode int, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_ERROR",
		Message:    fmt.Sprintf("provider error for source %s", source),
		Cause:      cause,
		Details: map[string]interface{}{
			"source":         source,
			"upstreamStatus": statusCode,
		},
	}
}

// Warnings

// NewDataShapeError records a malformed field that was coerced to a default
func NewDataShapeError(recordKey, field, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDataShape,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "DATA_SHAPE",
		Message:    fmt.Sprintf("record %s field %s: %s", recordKey, field, reason),
		Details: map[string]interface{}{
			"record": recordKey,
			"field":  field,
		},
	}
}

// NewUnresolvedAgentError records a listing whose agent could not be matched
func NewUnresolvedAgentError(listingKey string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUnresolvedAgent,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "UNRESOLVED_AGENT",
		Message:    fmt.Sprintf("no agent resolved for listing %s", listingKey),
		Details: map[string]interface{}{
			"listing": listingKey,
		},
	}
}

// Caller errors

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnknownSourceError creates an error for a source that is not configured
func NewUnknownSourceError(source string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "UNKNOWN_SOURCE",
		Message:    fmt.Sprintf("source not configured: %s", source),
		Details: map[string]interface{}{
			"source": source,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewSyncInProgressError creates the conflict returned when a source already has an active run
func NewSyncInProgressError(source string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "SYNC_IN_PROGRESS",
		Message:    fmt.Sprintf("a sync is already running for source %s", source),
		Details: map[string]interface{}{
			"source": source,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// System errors

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewPersistenceError creates a database error
func NewPersistenceError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPersistence,
		StatusCode: http.StatusInternalServerError,
		Code:       "PERSISTENCE_ERROR",
		Message:    fmt.Sprintf("persistence error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// Categorize categorizes an existing error, looking through wrapped errors
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	category, status := CategorySystem, http.StatusInternalServerError
	switch err.Code {
	case "INVALID_PARAMETER", "INVALID_MODE":
		category, status = CategoryValidation, http.StatusBadRequest
	case "NOT_FOUND", "UNKNOWN_SOURCE", "LISTING_NOT_FOUND", "AGENT_NOT_FOUND":
		category, status = CategoryNotFound, http.StatusNotFound
	case "SYNC_IN_PROGRESS":
		category, status = CategoryConflict, http.StatusConflict
	}
	return &CategorizedError{
		Category:   category,
		StatusCode: status,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
}

// HasCategory reports whether err carries the given category anywhere in its chain
func HasCategory(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == category
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable.
// Only transient network failures are; everything else fails fast.
func IsRetryable(err error) bool {
	return HasCategory(err, CategoryTransientNetwork)
}

// IsWarning reports whether err is a non-fatal warning that should be counted, not raised
func IsWarning(err error) bool {
	return HasCategory(err, CategoryDataShape) || HasCategory(err, CategoryUnresolvedAgent)
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 500
}
