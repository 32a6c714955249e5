package service

import (
	"context"
	"strings"
	"time"

	"github.com/vehicle-valuation/internal/logging"
	"github.com/vehicle-valuation/internal/metrics"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/parser"
	"github.com/vehicle-valuation/internal/retry"
	"github.com/vehicle-valuation/internal/storage"
	"github.com/vehicle-valuation/internal/types"
)

// MarketGateway persists market facts through a MarketStore without creating
// duplicates. Idempotence lives in the store; the gateway adds retries,
// record shaping and accounting.
type MarketGateway struct {
	store     storage.MarketStore
	tolerance models.Tolerance
	retry     *retry.RetryConfig
	country   string
}

// NewMarketGateway creates a gateway. A nil retry config uses the default policy.
func NewMarketGateway(store storage.MarketStore, tolerance models.Tolerance, retryCfg *retry.RetryConfig, country string) *MarketGateway {
	if retryCfg == nil {
		retryCfg = retry.DefaultRetryConfig()
	}
	return &MarketGateway{store: store, tolerance: tolerance, retry: retryCfg, country: country}
}

// UpsertIfNew stores rec unless an equivalent record exists
func (g *MarketGateway) UpsertIfNew(ctx context.Context, rec *models.MarketDataRecord) (models.UpsertResult, error) {
	var result models.UpsertResult
	err := retry.Do(ctx, g.retry, func(ctx context.Context, attempt int) error {
		var err error
		result, err = g.store.UpsertIfNew(ctx, rec, g.tolerance)
		return err
	})
	switch {
	case err != nil:
		metrics.RecordUpsert(metrics.ResultError)
	case result.Inserted:
		metrics.RecordUpsert(metrics.ResultInserted)
	default:
		metrics.RecordUpsert(metrics.ResultDuplicate)
	}
	return result, err
}

// PersistComparables upserts every flagged comparable. A failed record is
// logged and counted; it never stops the batch.
func (g *MarketGateway) PersistComparables(ctx context.Context, comps []models.Comparable, now time.Time) models.PersistStats {
	var stats models.PersistStats
	logger := logging.FromContext(ctx)
	for _, c := range comps {
		if !FlaggedForPersistence(c) {
			continue
		}
		stats.Flagged++
		res, err := g.UpsertIfNew(ctx, g.ComparableRecord(c, now))
		switch {
		case err != nil:
			stats.Failed++
			logger.WithError(err).WithField("url", c.URL).Warn("Comparable not saved")
		case res.Inserted:
			stats.Inserted++
		default:
			stats.Duplicates++
		}
		if ctx.Err() != nil {
			break
		}
	}
	return stats
}

// ComparableRecord shapes a comparable as a market record observed on now's day
func (g *MarketGateway) ComparableRecord(c models.Comparable, now time.Time) *models.MarketDataRecord {
	rec := &models.MarketDataRecord{
		Brand:           parser.DefaultDictionary().Canonical(c.Brand),
		Model:           parser.CanonicalModel(c.Model),
		ModelYear:       *c.Year,
		Price:           *c.Price,
		Mileage:         c.Mileage,
		TransactionDate: observationDay(now),
		Condition:       conditionLabel(c.Condition),
		DataOrigin:      c.SourceSite,
		DataType:        types.DataTypeComparableSearch,
		Country:         g.country,
	}
	if c.URL != "" {
		rec.SourceURL = models.StringPtr(c.URL)
	}
	return rec
}

// ExtractionRecord shapes user-confirmed extracted facts as a market record.
// It returns nil when the facts lack a valid brand/model, a price or a year.
func (g *MarketGateway) ExtractionRecord(facts models.ExtractedFacts, bm parser.BrandModel, origin string, now time.Time) *models.MarketDataRecord {
	if !parser.ValidBrandModel(bm.Brand, bm.Model) || facts.Price == nil || facts.Year == nil {
		return nil
	}
	return &models.MarketDataRecord{
		Brand:           bm.Brand,
		Model:           bm.Model,
		ModelYear:       *facts.Year,
		Price:           *facts.Price,
		Mileage:         facts.Mileage,
		TransactionDate: observationDay(now),
		Verified:        true,
		Condition:       conditionLabel(facts.Condition),
		DataOrigin:      strings.TrimSpace(origin),
		DataType:        types.DataTypeManualExtraction,
		Country:         g.country,
	}
}

// observationDay truncates to the UTC day so re-runs on one day share a date
func observationDay(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}

func conditionLabel(c types.Condition) string {
	if c == types.ConditionUnknown {
		return "Unknown"
	}
	return string(c)
}
