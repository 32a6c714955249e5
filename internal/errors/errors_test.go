package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vehicle-valuation/internal/types"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"provider error", NewProviderError("serpapi", fmt.Errorf("502")), true},
		{"provider timeout", NewProviderTimeoutError("serpapi"), true},
		{"provider rate limit", NewProviderRateLimitError("serpapi"), true},
		{"database", NewDatabaseError("insert", fmt.Errorf("conn reset")), true},
		{"wrapped database", fmt.Errorf("upsert: %w", NewDatabaseError("insert", nil)), true},
		{"query budget", NewQueryBudgetError(100), false},
		{"provider rejected", NewProviderRejectedError("serpapi", 401, nil), false},
		{"provider exhausted", NewProviderExhaustedError(5, nil), false},
		{"invalid vehicle", NewInvalidVehicleError("brand", "is empty"), false},
		{"not found", NewJobNotFoundError("x"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"plain", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestCategorizeKeepsChain(t *testing.T) {
	base := NewProviderExhaustedError(5, NewProviderTimeoutError("serpapi"))
	wrapped := fmt.Errorf("search stage: %w", base)

	cat := Categorize(wrapped)
	assert.Equal(t, CodeProviderExhausted, cat.Code)
	assert.True(t, HasCode(wrapped, CodeProviderExhausted))
	assert.Contains(t, base.Error(), CodeProviderTimeout)
}

func TestStatusCodes(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, GetHTTPStatusCode(NewInvalidParameterError("status", "unknown")))
	assert.Equal(t, http.StatusNotFound, GetHTTPStatusCode(NewJobNotFoundError("x")))
	assert.Equal(t, http.StatusConflict, GetHTTPStatusCode(NewIllegalTransitionError("x", types.JobCompleted, types.JobProcessing)))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatusCode(fmt.Errorf("boom")))
	assert.True(t, IsUserError(NewInvalidVehicleError("year", "out of range")))
	assert.False(t, IsUserError(NewDatabaseError("select", nil)))
}

func TestServiceErrorConversion(t *testing.T) {
	svc := NewInvalidVehicleError("model", "equals brand").ToServiceError()
	assert.Equal(t, CodeInvalidVehicle, svc.Code)
	assert.Equal(t, "model", svc.Details["field"])

	back := Categorize(svc)
	assert.Equal(t, CodeInvalidVehicle, back.Code)
}
