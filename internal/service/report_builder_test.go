package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-valuation/internal/models"
)

func TestReportBuilderWeightedMedian(t *testing.T) {
	b := NewReportBuilder(2, 0)
	comps := []models.Comparable{
		{URL: "a", Price: intPtr(40000), Year: intPtr(2022), Relevance: 100},
		{URL: "b", Price: intPtr(50000), Year: intPtr(2021), Relevance: 60},
		{URL: "c", Price: intPtr(90000), Year: intPtr(2023), Relevance: 50},
		{URL: "d", Price: intPtr(10000), Year: intPtr(2010), Relevance: 100},
		{URL: "e", Year: intPtr(2022), Relevance: 90},
	}

	r := b.Build("job-1", adriaTarget, comps, models.PersistStats{Inserted: 3}, testNow)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "job-1", r.JobID)
	assert.False(t, r.InsufficientData)
	require.NotNil(t, r.TargetPrice)
	// out-of-window "d" is ignored; weights 100/60/50 put the median at 50000
	assert.Equal(t, 50000, *r.TargetPrice)
	assert.Equal(t, 4, r.PricedCount)
	assert.Equal(t, 10000, *r.PriceMin)
	assert.Equal(t, 90000, *r.PriceMax)
	assert.Len(t, r.Comparables, 5)
	assert.Equal(t, 3, r.Persistence.Inserted)
	assert.Equal(t, testNow, r.GeneratedAt)
}

func TestReportBuilderFallsBackToAllYears(t *testing.T) {
	b := NewReportBuilder(2, 0)
	comps := []models.Comparable{
		{Price: intPtr(30000), Year: intPtr(2012), Relevance: 50},
		{Price: intPtr(34000), Relevance: 50},
		{Price: intPtr(36000), Year: intPtr(2014), Relevance: 50},
	}
	r := b.Build("job", adriaTarget, comps, models.PersistStats{}, testNow)
	require.NotNil(t, r.TargetPrice)
	assert.Equal(t, 34000, *r.TargetPrice)
}

func TestReportBuilderMileageAdjustment(t *testing.T) {
	b := NewReportBuilder(2, 0.05)
	target := adriaTarget
	target.Mileage = intPtr(40000)

	comps := []models.Comparable{{Price: intPtr(50000), Year: intPtr(2022), Mileage: intPtr(60000), Relevance: 80}}
	r := b.Build("job", target, comps, models.PersistStats{}, testNow)
	require.NotNil(t, r.TargetPrice)
	assert.Equal(t, 51000, *r.TargetPrice, "20000 km more on the comparable raises the equivalent price")
	assert.Equal(t, 50000, *r.PriceMax, "bounds keep raw prices")
}

func TestReportBuilderInsufficientData(t *testing.T) {
	r := NewReportBuilder(2, 0.05).Build("job", adriaTarget, []models.Comparable{{URL: "x", Relevance: 70}}, models.PersistStats{}, testNow)
	assert.True(t, r.InsufficientData)
	assert.Nil(t, r.TargetPrice)
	assert.Zero(t, r.PricedCount)
	assert.Len(t, r.Comparables, 1)

	empty := NewReportBuilder(2, 0).Build("job", adriaTarget, nil, models.PersistStats{}, testNow)
	assert.True(t, empty.InsufficientData)
	assert.NotNil(t, empty.Comparables)
}
