package adapter

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/vehicle-valuation/internal/circuitbreaker"
	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/logging"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/ratelimit"
	"github.com/vehicle-valuation/internal/retry"
)

// Budget is the shared provider quota consulted before every call
type Budget interface {
	TryConsume(ctx context.Context) (bool, error)
	Limit() int
}

var _ Budget = (*ratelimit.QueryBudget)(nil)

// ResilientProvider wraps a SearchProvider with a per-call timeout, a circuit
// breaker, retries with exponential backoff and an optional query budget.
type ResilientProvider struct {
	name    string
	inner   SearchProvider
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
	retry   *retry.RetryConfig
	budget  Budget
	health  *HealthTracker
}

// ResilienceConfig configures a ResilientProvider
type ResilienceConfig struct {
	Name    string
	Timeout time.Duration
	Retry   *retry.RetryConfig
	Breaker *circuitbreaker.Config
	// Budget may be nil to disable the quota.
	Budget Budget
}

// NewResilientProvider decorates inner
func NewResilientProvider(inner SearchProvider, cfg ResilienceConfig) *ResilientProvider {
	name := cfg.Name
	if name == "" {
		name = serpProviderName
	}
	breakerCfg := cfg.Breaker
	if breakerCfg == nil {
		breakerCfg = circuitbreaker.DefaultConfig(name)
	}
	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultRetryConfig()
	}
	rc := *retryCfg
	rc.ShouldRetry = func(err error) bool {
		return !stderrors.Is(err, circuitbreaker.ErrCircuitOpen) && apperrors.IsRetryable(err)
	}
	return &ResilientProvider{
		name:    name,
		inner:   inner,
		timeout: cfg.Timeout,
		breaker: circuitbreaker.NewCircuitBreaker(breakerCfg),
		retry:   &rc,
		budget:  cfg.Budget,
		health:  NewHealthTracker(name),
	}
}

// Query runs the inner query with the full resilience stack
func (p *ResilientProvider) Query(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
	var results []models.SearchResult
	err := retry.Do(ctx, p.retry, func(ctx context.Context, attempt int) error {
		if err := p.consumeBudget(ctx); err != nil {
			return err
		}

		callCtx, cancel := p.callContext(ctx)
		defer cancel()

		start := time.Now()
		err := p.breaker.Execute(callCtx, func(ctx context.Context) error {
			r, err := p.inner.Query(ctx, text, engine, locale)
			if err != nil {
				return err
			}
			results = r
			return nil
		})
		switch {
		case err == nil:
			p.health.RecordSuccess(time.Since(start))
			return nil
		case stderrors.Is(err, circuitbreaker.ErrCircuitOpen):
			return apperrors.NewProviderError(p.name, err)
		case stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			p.health.RecordFailure()
			return apperrors.NewProviderTimeoutError(p.name)
		default:
			p.health.RecordFailure()
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (p *ResilientProvider) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// consumeBudget fails the call once the quota is spent. A store outage does
// not block searching.
func (p *ResilientProvider) consumeBudget(ctx context.Context) error {
	if p.budget == nil {
		return nil
	}
	ok, err := p.budget.TryConsume(ctx)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Query budget unavailable, continuing without quota")
		return nil
	}
	if !ok {
		return apperrors.NewQueryBudgetError(p.budget.Limit())
	}
	return nil
}

// Health returns the provider health snapshot
func (p *ResilientProvider) Health() *ProviderHealth {
	return p.health.GetHealth()
}

// BreakerState returns the circuit breaker state
func (p *ResilientProvider) BreakerState() circuitbreaker.State {
	return p.breaker.GetState()
}
