// Package app wires the valuation engine from configuration. Both the HTTP
// server and the operator CLI build their collaborators through it.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/vehicle-valuation/internal/adapter"
	"github.com/vehicle-valuation/internal/api"
	"github.com/vehicle-valuation/internal/config"
	"github.com/vehicle-valuation/internal/job"
	"github.com/vehicle-valuation/internal/logging"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/parser"
	"github.com/vehicle-valuation/internal/ratelimit"
	"github.com/vehicle-valuation/internal/retry"
	"github.com/vehicle-valuation/internal/service"
	"github.com/vehicle-valuation/internal/storage"
)

// Options adjust how New builds the engine
type Options struct {
	// InMemoryJobs keeps jobs in process even when the market store is Postgres.
	InMemoryJobs bool
	// SkipMigrations leaves the schema as it is.
	SkipMigrations bool
}

// App holds the wired engine and the connections it owns
type App struct {
	Config     *config.Config
	Logger     *logging.Logger
	Jobs       *job.ValuationService
	Gateway    *service.MarketGateway
	Facts      *parser.FactParser
	Normalizer *parser.Normalizer

	closers []func()
}

// New connects the configured stores and builds the orchestrator. The
// returned App is not started; callers own Jobs.Start and Close.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	a := &App{Config: cfg, Logger: logger}

	market, jobs, err := a.openStores(ctx, cfg, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	if opts.InMemoryJobs {
		jobs = storage.NewMemoryJobStore()
	}

	cache, budget := a.openRedis(ctx, cfg)
	observations := a.openObservations(ctx, cfg, opts)

	retryCfg := RetryPolicy(cfg.Retry)
	provider, err := adapter.NewProviderChain(cfg.Search, retryCfg, budget, cache)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build search provider: %w", err)
	}

	bounds := parser.PriceBounds{Min: cfg.Valuation.MinPrice, Max: cfg.Valuation.MaxPrice}
	var pages service.PageSource
	if cfg.Search.EnrichPages > 0 {
		pages = adapter.NewPageFetcher(cfg.Search.QueryTimeout)
	}
	search := service.NewComparableSearch(provider, ratelimit.NewQueryPacer(cfg.Search.QueryDelay), pages, service.SearchSettings{
		Engine:       cfg.Search.Engine,
		Locale:       cfg.Search.Locale,
		Marketplaces: cfg.Search.Marketplaces,
		MaxResults:   cfg.Search.MaxResults,
		EnrichPages:  cfg.Search.EnrichPages,
		Scoring:      cfg.Scoring,
		Bounds:       bounds,
	})

	a.Gateway = service.NewMarketGateway(market, Tolerance(cfg.Dedup), retryCfg, cfg.Valuation.Country)
	a.Facts = parser.NewFactParser(bounds)
	a.Normalizer = parser.NewNormalizer(nil)
	a.Jobs = job.NewValuationService(job.Dependencies{
		Store:        jobs,
		Search:       search,
		Gateway:      a.Gateway,
		Reports:      service.NewReportBuilder(cfg.Scoring.YearWindow, cfg.Valuation.DepreciationKm),
		Observations: observations,
		Logger:       logger,
	}, job.Config{
		Workers:    cfg.Valuation.Workers,
		JobTimeout: cfg.Valuation.JobTimeout,
		MaxResults: cfg.Search.MaxResults,
		Plausibility: service.Plausibility{
			Bounds:     bounds,
			MinYear:    cfg.Valuation.MinYear,
			MaxMileage: cfg.Valuation.MaxMileage,
		},
		Retry: retryCfg,
	})
	return a, nil
}

// ExtractionHandler serves manual extractions against the app's market store
func (a *App) ExtractionHandler() *api.ExtractionHandler {
	return api.NewExtractionHandler(a.Facts, a.Normalizer, a.Gateway)
}

// Close releases every connection New opened, newest first
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStores(ctx context.Context, cfg *config.Config, opts Options) (storage.MarketStore, storage.JobStore, error) {
	if cfg.Database.Backend == "memory" {
		a.Logger.Warn("Using in-memory stores; market data is lost on exit")
		return storage.NewMemoryMarketStore(), storage.NewMemoryJobStore(), nil
	}

	if !opts.SkipMigrations {
		path := filepath.Join(cfg.Database.MigrationsPath, "postgres")
		if err := storage.RunMigrations(cfg.Database.Postgres.URL(), path); err != nil {
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
	}
	pg, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, pg.Close)
	a.Logger.WithField("host", cfg.Database.Postgres.Host).Info("Connected to Postgres")
	return storage.NewMarketDataRepository(pg), storage.NewJobRepository(pg), nil
}

// openRedis returns the search cache and the shared query budget. Redis is
// optional: without it searches are neither cached nor budgeted.
func (a *App) openRedis(ctx context.Context, cfg *config.Config) (adapter.ResultCache, adapter.Budget) {
	if cfg.Database.Backend == "memory" {
		return nil, nil
	}
	rc, err := storage.NewRedisCache(ctx, &cfg.Database.Redis)
	if err != nil {
		a.Logger.WithError(err).Warn("Redis unavailable; search cache and query budget disabled")
		return nil, nil
	}
	a.closers = append(a.closers, func() {
		if err := rc.Close(); err != nil {
			a.Logger.WithError(err).Warn("Closing Redis failed")
		}
	})

	cache := storage.NewSearchCache(storage.NewCacheService(rc, cfg.Search.CacheTTL))
	if cfg.Search.DailyBudget <= 0 {
		return cache, nil
	}
	budget, err := ratelimit.NewQueryBudget(&ratelimit.QueryBudgetConfig{
		Redis: rc.Client(),
		Limit: cfg.Search.DailyBudget,
	})
	if err != nil {
		a.Logger.WithError(err).Warn("Query budget disabled")
		return cache, nil
	}
	return cache, budget
}

// openObservations connects the ClickHouse history sink when configured
func (a *App) openObservations(ctx context.Context, cfg *config.Config, opts Options) storage.ObservationSink {
	if cfg.Database.ClickHouse.Host == "" {
		return storage.DiscardObservations{}
	}
	ch, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		a.Logger.WithError(err).Warn("ClickHouse unavailable; observation history disabled")
		return storage.DiscardObservations{}
	}
	a.closers = append(a.closers, func() {
		if err := ch.Close(); err != nil {
			a.Logger.WithError(err).Warn("Closing ClickHouse failed")
		}
	})
	if !opts.SkipMigrations {
		path := filepath.Join(cfg.Database.MigrationsPath, "clickhouse")
		if err := storage.RunClickHouseMigrations(ctx, ch, path); err != nil {
			a.Logger.WithError(err).Warn("ClickHouse migrations failed; observation history disabled")
			return storage.DiscardObservations{}
		}
	}
	return storage.NewObservationRepository(ch)
}

// RetryPolicy converts configured retry settings with a doubling backoff
func RetryPolicy(cfg config.RetryConfig) *retry.RetryConfig {
	return &retry.RetryConfig{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   2,
	}
}

// Tolerance converts configured dedup tolerances
func Tolerance(cfg config.DedupConfig) models.Tolerance {
	return models.Tolerance{
		Price:      cfg.PriceTolerance,
		Mileage:    cfg.MileageTolerance,
		DateWindow: time.Duration(cfg.DateWindowDays) * 24 * time.Hour,
	}
}
