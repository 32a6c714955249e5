// Package rules applies domain overrides to extracted facts before they are persisted.
package rules

import (
	"strings"
	"time"

	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/parser"
	"github.com/vehicle-valuation/internal/types"
)

// MaxNewMileage is the largest odometer reading still consistent with a new vehicle
const MaxNewMileage = 100

// Apply returns facts with the new-vehicle overrides applied. condition is the
// raw condition wording; an empty value falls back to the condition already
// carried by facts. Applying the result again changes nothing.
func Apply(facts models.ExtractedFacts, condition string, now time.Time) models.ExtractedFacts {
	out := facts
	out.Price = copyInt(facts.Price)

	c := facts.Condition
	if strings.TrimSpace(condition) != "" {
		c = parser.ClassifyCondition(condition)
	}
	if c != types.ConditionNew {
		if c != types.ConditionUnknown {
			out.Condition = c
		}
		out.Mileage = copyInt(facts.Mileage)
		out.Year = copyInt(facts.Year)
		return out
	}

	out.Condition = types.ConditionNew
	if m := facts.Mileage; m != nil && *m >= 0 && *m <= MaxNewMileage {
		out.Mileage = models.IntPtr(*m)
	} else {
		out.Mileage = models.IntPtr(0)
	}
	current := now.Year()
	if y := facts.Year; y != nil && *y >= current {
		out.Year = models.IntPtr(*y)
	} else {
		out.Year = models.IntPtr(current)
	}
	return out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	return models.IntPtr(*v)
}
