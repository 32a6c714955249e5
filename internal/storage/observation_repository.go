package storage

import (
	"context"
	"fmt"

	"github.com/vehicle-valuation/internal/models"
)

// ObservationRepository appends comparable observations to ClickHouse
type ObservationRepository struct {
	db *ClickHouseDB
}

// NewObservationRepository creates a new observation repository
func NewObservationRepository(db *ClickHouseDB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// AppendObservations writes obs in a single batch
func (r *ObservationRepository) AppendObservations(ctx context.Context, obs []models.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO comparable_observations (
			job_id, observed_at, url, source_site, title, brand, model,
			brand_confidence, price, mileage, year, condition, relevance, enriched
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, o := range obs {
		if err := batch.Append(
			o.JobID,
			o.ObservedAt,
			o.URL,
			o.SourceSite,
			o.Title,
			o.Brand,
			o.Model,
			uint8(o.BrandConfidence),
			nullableInt32(o.Price),
			nullableInt32(o.Mileage),
			nullableUint16(o.Year),
			string(o.Condition),
			uint8(o.Relevance),
			o.Enriched,
		); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

func nullableInt32(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v) // #nosec G115 - parser bounds keep values well inside int32
	return &n
}

func nullableUint16(v *int) *uint16 {
	if v == nil {
		return nil
	}
	n := uint16(*v) // #nosec G115 - years are validated before observation
	return &n
}

var _ ObservationSink = (*ObservationRepository)(nil)
