package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/parser"
	"github.com/vehicle-valuation/internal/retry"
	"github.com/vehicle-valuation/internal/storage"
	"github.com/vehicle-valuation/internal/types"
)

func fastRetry() *retry.RetryConfig {
	return &retry.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func pricedComparable(url string, price int) models.Comparable {
	return models.Comparable{
		URL: url, SourceSite: "Wallapop", Brand: "adria", Model: "twin plus 600",
		Price: intPtr(price), Year: intPtr(2022), Mileage: intPtr(45000), Condition: types.ConditionUsed,
	}
}

func TestPersistComparablesIsIdempotent(t *testing.T) {
	store := storage.NewMemoryMarketStore()
	gw := NewMarketGateway(store, models.DefaultTolerance(), fastRetry(), "ES")
	comps := []models.Comparable{
		pricedComparable("https://wallapop.com/1", 52000),
		pricedComparable("https://wallapop.com/2", 52300), // within tolerance of the first
		pricedComparable("https://wallapop.com/3", 61000),
		{URL: "https://example.com/x", Brand: "Adria", Model: parser.Unknown, Price: intPtr(30000), Year: intPtr(2019)},
	}

	first := gw.PersistComparables(context.Background(), comps, testNow)
	assert.Equal(t, models.PersistStats{Flagged: 3, Inserted: 2, Duplicates: 1}, first)

	second := gw.PersistComparables(context.Background(), comps, testNow.Add(time.Hour))
	assert.Equal(t, models.PersistStats{Flagged: 3, Duplicates: 3}, second)

	records := store.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "Adria", records[0].Brand)
	assert.Equal(t, "Twin Plus 600", records[0].Model)
	assert.Equal(t, types.DataTypeComparableSearch, records[0].DataType)
	assert.Equal(t, "Used", records[0].Condition)
	assert.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), records[0].TransactionDate)
	require.NotNil(t, records[0].SourceURL)
	assert.Equal(t, "https://wallapop.com/1", *records[0].SourceURL)
}

type failingStore struct {
	storage.MarketStore
	calls int
}

func (f *failingStore) UpsertIfNew(ctx context.Context, rec *models.MarketDataRecord, tol models.Tolerance) (models.UpsertResult, error) {
	f.calls++
	return models.UpsertResult{}, apperrors.NewDatabaseError("upsert", context.DeadlineExceeded)
}

func TestPersistComparablesCountsFailures(t *testing.T) {
	store := &failingStore{}
	gw := NewMarketGateway(store, models.DefaultTolerance(), fastRetry(), "ES")

	stats := gw.PersistComparables(context.Background(), []models.Comparable{
		pricedComparable("https://wallapop.com/1", 52000),
		pricedComparable("https://wallapop.com/2", 70000),
	}, testNow)

	assert.Equal(t, models.PersistStats{Flagged: 2, Failed: 2}, stats)
	assert.Equal(t, 4, store.calls, "each record is retried")
}

func TestExtractionRecord(t *testing.T) {
	gw := NewMarketGateway(storage.NewMemoryMarketStore(), models.DefaultTolerance(), nil, "ES")
	facts := models.ExtractedFacts{Price: intPtr(45000), Year: intPtr(2021), Condition: types.ConditionNew}

	rec := gw.ExtractionRecord(facts, parser.BrandModel{Brand: "Knaus", Model: "Sky TI"}, " user ", testNow)
	require.NotNil(t, rec)
	assert.Equal(t, types.DataTypeManualExtraction, rec.DataType)
	assert.True(t, rec.Verified)
	assert.Equal(t, "user", rec.DataOrigin)
	assert.Equal(t, "New", rec.Condition)

	assert.Nil(t, gw.ExtractionRecord(facts, parser.BrandModel{Brand: "Knaus", Model: "Knaus"}, "", testNow))
	facts.Price = nil
	assert.Nil(t, gw.ExtractionRecord(facts, parser.BrandModel{Brand: "Knaus", Model: "Sky TI"}, "", testNow))
}
