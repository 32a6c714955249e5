package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vehicle-valuation/internal/storage"
)

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	var (
		dbType string
		steps  int
	)

	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Apply, roll back or inspect schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch dbType {
			case "postgres":
				return migratePostgres(args[0], steps)
			case "clickhouse":
				return migrateClickHouse(cmd.Context(), args[0])
			default:
				return fmt.Errorf("unknown database type: %s", dbType)
			}
		},
	}

	cmd.Flags().StringVar(&dbType, "db", "postgres", "database: postgres or clickhouse")
	cmd.Flags().IntVar(&steps, "steps", 1, "migrations to roll back with down")
	return cmd
}

func migratePostgres(action string, steps int) error {
	databaseURL := cfg.Database.Postgres.URL()
	path := filepath.Join(cfg.Database.MigrationsPath, "postgres")

	switch action {
	case "up":
		logger.WithField("path", path).Info("Running Postgres migrations")
		if err := storage.RunMigrations(databaseURL, path); err != nil {
			return err
		}
		logger.Info("Postgres migrations completed")

	case "down":
		logger.WithField("steps", steps).Info("Rolling back Postgres migrations")
		if err := storage.RollbackMigrations(databaseURL, path, steps); err != nil {
			return err
		}
		logger.Info("Postgres migrations rolled back")

	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, path)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"database": "postgres", "version": version, "dirty": dirty})
	}
	return nil
}

func migrateClickHouse(ctx context.Context, action string) error {
	if action != "up" {
		return fmt.Errorf("ClickHouse migrations only support 'up'")
	}
	if cfg.Database.ClickHouse.Host == "" {
		return fmt.Errorf("CLICKHOUSE_HOST is not set")
	}

	db, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		return fmt.Errorf("connect clickhouse: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Closing ClickHouse failed")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	path := filepath.Join(cfg.Database.MigrationsPath, "clickhouse")
	logger.WithField("path", path).Info("Running ClickHouse migrations")
	if err := storage.RunClickHouseMigrations(ctx, db, path); err != nil {
		return err
	}
	logger.Info("ClickHouse migrations completed")
	return nil
}
