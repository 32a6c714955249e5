package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/types"
)

// MarketDataRepository is the Postgres MarketStore
type MarketDataRepository struct {
	db *PostgresDB
}

// NewMarketDataRepository creates a new market data repository
func NewMarketDataRepository(db *PostgresDB) *MarketDataRepository {
	return &MarketDataRepository{db: db}
}

const marketDataColumns = `id::text, brand, model, chassis, model_year, price, mileage, transaction_date,
	verified, condition, data_origin, data_type, country, region, fuel, heating,
	homologation, source_url, created_at`

// queryer is satisfied by both the pool and a transaction
type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FindEquivalent returns the oldest record equivalent to rec, or nil
func (r *MarketDataRepository) FindEquivalent(ctx context.Context, rec *models.MarketDataRecord, tol models.Tolerance) (*models.MarketDataRecord, error) {
	found, err := findEquivalent(ctx, r.db.Pool(), rec, tol)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find equivalent market record", err)
	}
	return found, nil
}

func findEquivalent(ctx context.Context, q queryer, rec *models.MarketDataRecord, tol models.Tolerance) (*models.MarketDataRecord, error) {
	query := `
		SELECT ` + marketDataColumns + `
		FROM market_data
		WHERE lower(brand) = lower($1)
		  AND lower(model) = lower($2)
		  AND model_year = $3
		  AND abs(price - $4) <= $5
		  AND ((mileage IS NULL AND $6::integer IS NULL) OR abs(mileage - $6::integer) <= $7)
		  AND transaction_date BETWEEN $8::timestamptz - make_interval(secs => $9)
		                           AND $8::timestamptz + make_interval(secs => $9)
		ORDER BY created_at ASC
		LIMIT 1
	`

	row := q.QueryRow(ctx, query,
		strings.TrimSpace(rec.Brand),
		strings.TrimSpace(rec.Model),
		rec.ModelYear,
		rec.Price,
		tol.Price,
		rec.Mileage,
		tol.Mileage,
		rec.TransactionDate,
		tol.DateWindow.Seconds(),
	)
	found, err := scanMarketRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Insert stores rec unconditionally and returns its identifier
func (r *MarketDataRepository) Insert(ctx context.Context, rec *models.MarketDataRecord) (string, error) {
	id, err := insertMarketRecord(ctx, r.db.Pool(), rec)
	if err != nil {
		return "", apperrors.NewDatabaseError("insert market record", err)
	}
	return id, nil
}

func insertMarketRecord(ctx context.Context, q queryer, rec *models.MarketDataRecord) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	query := `
		INSERT INTO market_data (
			id, brand, model, chassis, model_year, price, mileage, transaction_date,
			verified, condition, data_origin, data_type, country, region, fuel, heating,
			homologation, source_url
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id::text
	`
	var stored string
	err := q.QueryRow(ctx, query,
		id,
		strings.TrimSpace(rec.Brand),
		strings.TrimSpace(rec.Model),
		rec.Chassis,
		rec.ModelYear,
		rec.Price,
		rec.Mileage,
		rec.TransactionDate,
		rec.Verified,
		rec.Condition,
		rec.DataOrigin,
		string(rec.DataType),
		rec.Country,
		rec.Region,
		rec.Fuel,
		rec.Heating,
		rec.Homologation,
		rec.SourceURL,
	).Scan(&stored)
	if err != nil {
		return "", fmt.Errorf("failed to insert market record: %w", err)
	}
	return stored, nil
}

// UpsertIfNew checks and inserts inside one transaction holding an advisory
// lock on (brand, model, year), so concurrent equivalent upserts serialize.
func (r *MarketDataRepository) UpsertIfNew(ctx context.Context, rec *models.MarketDataRecord, tol models.Tolerance) (models.UpsertResult, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return models.UpsertResult{}, apperrors.NewDatabaseError("begin upsert", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	lockKey := strings.ToLower(strings.TrimSpace(rec.Brand)) + "|" +
		strings.ToLower(strings.TrimSpace(rec.Model)) + "|" +
		fmt.Sprint(rec.ModelYear)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return models.UpsertResult{}, apperrors.NewDatabaseError("lock market key", err)
	}

	existing, err := findEquivalent(ctx, tx, rec, tol)
	if err != nil {
		return models.UpsertResult{}, apperrors.NewDatabaseError("find equivalent market record", err)
	}
	if existing != nil {
		if err := tx.Commit(ctx); err != nil {
			return models.UpsertResult{}, apperrors.NewDatabaseError("commit upsert", err)
		}
		return models.UpsertResult{Inserted: false, ID: existing.ID}, nil
	}

	id, err := insertMarketRecord(ctx, tx, rec)
	if err != nil {
		return models.UpsertResult{}, apperrors.NewDatabaseError("insert market record", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.UpsertResult{}, apperrors.NewDatabaseError("commit upsert", err)
	}
	return models.UpsertResult{Inserted: true, ID: id}, nil
}

func scanMarketRecord(row pgx.Row) (*models.MarketDataRecord, error) {
	var rec models.MarketDataRecord
	var dataType string
	err := row.Scan(
		&rec.ID,
		&rec.Brand,
		&rec.Model,
		&rec.Chassis,
		&rec.ModelYear,
		&rec.Price,
		&rec.Mileage,
		&rec.TransactionDate,
		&rec.Verified,
		&rec.Condition,
		&rec.DataOrigin,
		&dataType,
		&rec.Country,
		&rec.Region,
		&rec.Fuel,
		&rec.Heating,
		&rec.Homologation,
		&rec.SourceURL,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.DataType = types.DataType(dataType)
	return &rec, nil
}

var _ MarketStore = (*MarketDataRepository)(nil)
