package adapter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-valuation/internal/circuitbreaker"
	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/retry"
)

type fakeBudget struct {
	remaining int
}

func (b *fakeBudget) TryConsume(ctx context.Context) (bool, error) {
	if b.remaining <= 0 {
		return false, nil
	}
	b.remaining--
	return true, nil
}

func (b *fakeBudget) Limit() int { return 2 }

func fastRetry() *retry.RetryConfig {
	return &retry.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestResilientProviderRetriesTransientFailures(t *testing.T) {
	var calls int32
	inner := ProviderFunc(func(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, apperrors.NewProviderError("stub", nil)
		}
		return []models.SearchResult{{Title: "ok", URL: "https://x/1"}}, nil
	})
	p := NewResilientProvider(inner, ResilienceConfig{Name: "stub", Retry: fastRetry()})

	results, err := p.Query(context.Background(), "q", "google", "es")
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	h := p.Health()
	assert.Equal(t, int64(3), h.TotalRequests)
	assert.Equal(t, int64(1), h.SuccessfulReqs)
	assert.True(t, h.IsHealthy)
}

func TestResilientProviderDoesNotRetryRejections(t *testing.T) {
	var calls int32
	inner := ProviderFunc(func(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
		atomic.AddInt32(&calls, 1)
		return nil, apperrors.NewProviderRejectedError("stub", 401, nil)
	})
	p := NewResilientProvider(inner, ResilienceConfig{Name: "stub", Retry: fastRetry()})

	_, err := p.Query(context.Background(), "q", "google", "es")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeProviderRejected))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResilientProviderTimeout(t *testing.T) {
	inner := ProviderFunc(func(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := NewResilientProvider(inner, ResilienceConfig{
		Name:    "stub",
		Timeout: 10 * time.Millisecond,
		Retry:   &retry.RetryConfig{MaxAttempts: 1},
	})

	_, err := p.Query(context.Background(), "q", "google", "es")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeProviderTimeout), "got %v", err)
}

func TestResilientProviderBudget(t *testing.T) {
	inner := ProviderFunc(func(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
		return []models.SearchResult{}, nil
	})
	p := NewResilientProvider(inner, ResilienceConfig{Name: "stub", Retry: fastRetry(), Budget: &fakeBudget{remaining: 2}})

	for i := 0; i < 2; i++ {
		_, err := p.Query(context.Background(), "q", "google", "es")
		require.NoError(t, err)
	}
	_, err := p.Query(context.Background(), "q", "google", "es")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeQueryBudget))
}

func TestResilientProviderOpensCircuit(t *testing.T) {
	var calls int32
	inner := ProviderFunc(func(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
		atomic.AddInt32(&calls, 1)
		return nil, apperrors.NewProviderError("stub", nil)
	})
	p := NewResilientProvider(inner, ResilienceConfig{
		Name:    "stub",
		Retry:   &retry.RetryConfig{MaxAttempts: 1},
		Breaker: &circuitbreaker.Config{Name: "stub", MaxFailures: 2, Timeout: time.Minute},
	})

	for i := 0; i < 2; i++ {
		_, _ = p.Query(context.Background(), "q", "google", "es")
	}
	assert.Equal(t, circuitbreaker.StateOpen, p.BreakerState())

	_, err := p.Query(context.Background(), "q", "google", "es")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open circuit must not reach the provider")
}

func TestHealthTrackerThresholds(t *testing.T) {
	h := NewHealthTracker("stub")
	h.SetHealthThresholds(2, 0.9)
	h.RecordFailure()
	assert.True(t, h.IsHealthy())
	h.RecordFailure()
	assert.False(t, h.IsHealthy())
	h.RecordSuccess(time.Millisecond)
	assert.True(t, h.IsHealthy())
}
