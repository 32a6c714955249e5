package service

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vehicle-valuation/internal/models"
)

// ReportBuilder synthesizes a valuation report from ranked comparables
type ReportBuilder struct {
	yearWindow     int
	depreciationKm float64
}

// NewReportBuilder creates a builder. yearWindow selects the preferred
// comparables; depreciationKm adjusts prices for mileage differences.
func NewReportBuilder(yearWindow int, depreciationKm float64) *ReportBuilder {
	return &ReportBuilder{yearWindow: yearWindow, depreciationKm: depreciationKm}
}

type pricePoint struct {
	price  float64
	weight int
}

// Build computes the target price as the relevance-weighted median of the
// mileage-adjusted comparable prices. With no priced comparable the report
// is marked insufficient.
func (b *ReportBuilder) Build(jobID string, target models.TargetVehicle, comps []models.Comparable, stats models.PersistStats, now time.Time) *models.ValuationReport {
	report := &models.ValuationReport{
		ID:          uuid.NewString(),
		JobID:       jobID,
		Target:      target,
		Comparables: append([]models.Comparable{}, comps...),
		Persistence: stats,
		GeneratedAt: now.UTC(),
	}

	var all, near []pricePoint
	for _, c := range comps {
		if c.Price == nil {
			continue
		}
		report.PricedCount++
		if report.PriceMin == nil || *c.Price < *report.PriceMin {
			report.PriceMin = models.IntPtr(*c.Price)
		}
		if report.PriceMax == nil || *c.Price > *report.PriceMax {
			report.PriceMax = models.IntPtr(*c.Price)
		}

		p := pricePoint{price: b.adjust(c, target), weight: c.Relevance}
		if p.weight < 1 {
			p.weight = 1
		}
		all = append(all, p)
		if c.Year != nil && absInt(*c.Year-target.Year) <= b.yearWindow {
			near = append(near, p)
		}
	}

	if len(all) == 0 {
		report.InsufficientData = true
		return report
	}
	points := all
	if len(near) > 0 {
		points = near
	}
	report.TargetPrice = models.IntPtr(weightedMedian(points))
	return report
}

// adjust moves a comparable price to the target's mileage. A comparable with
// more kilometres than the target is worth less, so its price is raised.
func (b *ReportBuilder) adjust(c models.Comparable, target models.TargetVehicle) float64 {
	price := float64(*c.Price)
	if c.Mileage == nil || target.Mileage == nil || b.depreciationKm == 0 {
		return price
	}
	adjusted := price + b.depreciationKm*float64(*c.Mileage-*target.Mileage)
	if adjusted < 0 {
		return 0
	}
	return adjusted
}

// weightedMedian returns the smallest price whose cumulative weight reaches half the total
func weightedMedian(points []pricePoint) int {
	sorted := append([]pricePoint(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].price < sorted[j].price })

	total := 0
	for _, p := range sorted {
		total += p.weight
	}
	half := float64(total) / 2
	cum := 0
	for _, p := range sorted {
		cum += p.weight
		if float64(cum) >= half {
			return int(math.Round(p.price))
		}
	}
	return int(math.Round(sorted[len(sorted)-1].price))
}
