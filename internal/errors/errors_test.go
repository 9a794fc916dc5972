package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mls-sync/internal/types"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectCategory ErrorCategory
		expectStatus   int
	}{
		{
			name:           "categorized error passes through",
			err:            NewSyncInProgressError("demo"),
			expectCategory: CategoryConflict,
			expectStatus:   http.StatusConflict,
		},
		{
			name:           "wrapped categorized error is found",
			err:            fmt.Errorf("failed to fetch page: %w", NewAuthenticationError("demo", nil)),
			expectCategory: CategoryAuthentication,
			expectStatus:   http.StatusBadGateway,
		},
		{
			name:           "service error is mapped by code",
			err:            &types.ServiceError{Code: "LISTING_NOT_FOUND", Message: "missing"},
			expectCategory: CategoryNotFound,
			expectStatus:   http.StatusNotFound,
		},
		{
			name:           "plain error becomes internal",
			err:            stderrors.New("boom"),
			expectCategory: CategorySystem,
			expectStatus:   http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catErr := Categorize(tt.err)
			require.NotNil(t, catErr)
			assert.Equal(t, tt.expectCategory, catErr.Category)
			assert.Equal(t, tt.expectStatus, GetHTTPStatusCode(tt.err))
		})
	}

	assert.Nil(t, Categorize(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTransientNetworkError("demo", 503, nil)))
	assert.True(t, IsRetryable(fmt.Errorf("page 3: %w", NewTransientNetworkError("demo", 0, stderrors.New("reset")))))
	assert.False(t, IsRetryable(NewAuthenticationError("demo", nil)))
	assert.False(t, IsRetryable(NewProviderError("demo", 400, nil)))
	assert.False(t, IsRetryable(stderrors.New("boom")))
	assert.False(t, IsRetryable(nil))
}

func TestIsWarning(t *testing.T) {
	assert.True(t, IsWarning(NewDataShapeError("L1", "ListPrice", "not a number")))
	assert.True(t, IsWarning(NewUnresolvedAgentError("L1")))
	assert.False(t, IsWarning(NewPersistenceError("upsert listings", nil)))
}

func TestCategorizedError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewPersistenceError("replace source", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, IsSystemError(err))
	assert.False(t, IsSystemError(NewSyncInProgressError("demo")))
}

func TestRateLimitAndUnavailableErrors(t *testing.T) {
	limited := NewRateLimitError(2)
	assert.Equal(t, http.StatusTooManyRequests, GetHTTPStatusCode(limited))
	assert.Equal(t, 2, limited.Details["retryAfter"])
	assert.False(t, IsSystemError(limited))

	down := NewServiceUnavailableError("redis")
	assert.Equal(t, http.StatusServiceUnavailable, GetHTTPStatusCode(down))
	assert.True(t, IsSystemError(down))
	assert.Equal(t, "SERVICE_UNAVAILABLE", down.ToServiceError().Code)
}

func TestToServiceError(t *testing.T) {
	svc := NewUnknownSourceError("nowhere").ToServiceError()
	assert.Equal(t, "UNKNOWN_SOURCE", svc.Code)
	assert.Equal(t, "nowhere", svc.Details["source"])
}
