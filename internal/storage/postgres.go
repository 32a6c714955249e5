// Package storage provides database connections, repositories and in-memory
// stores for market data, valuation jobs and reports.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vehicle-valuation/internal/config"
)

// applicationName tags the engine's sessions in pg_stat_activity
const applicationName = "vehicle-valuation"

// connectTimeout bounds the dial and first ping of every store connection
const connectTimeout = 10 * time.Second

// PostgresDB holds the pool shared by the market data and job repositories
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB opens the pool and verifies it with a ping
func NewPostgresDB(ctx context.Context, cfg *config.PostgresConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections) // #nosec G115 - MaxConnections is validated in config
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnIdleTime = 15 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	return &PostgresDB{pool: pool}, nil
}

// Close closes the pool
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying pool for repository queries
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}
