package service

import (
	"time"

	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/parser"
	"github.com/vehicle-valuation/internal/rules"
)

// Plausibility holds the category bounds a vehicle must fall within
type Plausibility struct {
	Bounds     parser.PriceBounds
	MinYear    int
	MaxMileage int
}

// maxYear allows next year's model-year listings
func maxYear(now time.Time) int { return now.Year() + 1 }

// ValidateTarget checks a valuation request before any search is issued
func (p Plausibility) ValidateTarget(t models.TargetVehicle, now time.Time) error {
	if !parser.ValidBrandModel(t.Brand, t.Model) {
		return apperrors.NewInvalidVehicleError("brand/model", "must be known and distinct")
	}
	if t.Year < p.MinYear || t.Year > maxYear(now) {
		return apperrors.NewInvalidVehicleError("year", "outside the plausible range")
	}
	if t.Mileage != nil && (*t.Mileage < 0 || *t.Mileage > p.MaxMileage) {
		return apperrors.NewInvalidVehicleError("mileage", "outside the plausible range")
	}
	return nil
}

// plausible reports whether every present fact lies within bounds
func (p Plausibility) plausible(f models.ExtractedFacts, now time.Time) bool {
	if f.Price != nil && !p.Bounds.Contains(*f.Price) {
		return false
	}
	if f.Year != nil && (*f.Year < p.MinYear || *f.Year > maxYear(now)) {
		return false
	}
	if f.Mileage != nil && (*f.Mileage < 0 || *f.Mileage > p.MaxMileage) {
		return false
	}
	return true
}

// NormalizeComparables applies the business overrides to every comparable and
// drops the ones left with implausible facts. Order is preserved.
func NormalizeComparables(comps []models.Comparable, p Plausibility, now time.Time) (kept []models.Comparable, discarded int) {
	kept = make([]models.Comparable, 0, len(comps))
	for _, c := range comps {
		facts := rules.Apply(c.Facts(), "", now)
		if !p.plausible(facts, now) {
			discarded++
			continue
		}
		c.ApplyFacts(facts)
		kept = append(kept, c)
	}
	return kept, discarded
}

// FlaggedForPersistence reports whether a comparable carries enough to become
// a market record
func FlaggedForPersistence(c models.Comparable) bool {
	return parser.ValidBrandModel(c.Brand, c.Model) && c.Price != nil && c.Year != nil
}
