package rules

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/types"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func TestNewVehicleOverride(t *testing.T) {
	facts := models.ExtractedFacts{Mileage: models.IntPtr(50000), Year: models.IntPtr(2015), Price: models.IntPtr(70000)}

	got := Apply(facts, "new", now)

	require.NotNil(t, got.Mileage)
	require.NotNil(t, got.Year)
	assert.Equal(t, 0, *got.Mileage)
	assert.Equal(t, 2026, *got.Year)
	assert.Equal(t, types.ConditionNew, got.Condition)
	assert.Equal(t, 70000, *got.Price)
	assert.Equal(t, 50000, *facts.Mileage, "input must not be modified")
}

func TestOverrideCases(t *testing.T) {
	tests := []struct {
		name        string
		condition   string
		facts       models.ExtractedFacts
		wantMileage *int
		wantYear    *int
		wantCond    types.Condition
	}{
		{
			name:        "small delivery mileage kept",
			condition:   "nuevo",
			facts:       models.ExtractedFacts{Mileage: models.IntPtr(35), Year: models.IntPtr(2024)},
			wantMileage: models.IntPtr(35),
			wantYear:    models.IntPtr(2026),
			wantCond:    types.ConditionNew,
		},
		{
			name:        "future model year preserved",
			condition:   "sin matricular",
			facts:       models.ExtractedFacts{Year: models.IntPtr(2027)},
			wantMileage: models.IntPtr(0),
			wantYear:    models.IntPtr(2027),
			wantCond:    types.ConditionNew,
		},
		{
			name:        "missing fields filled for new",
			condition:   "0 km",
			wantMileage: models.IntPtr(0),
			wantYear:    models.IntPtr(2026),
			wantCond:    types.ConditionNew,
		},
		{
			name:        "condition carried by facts",
			facts:       models.ExtractedFacts{Condition: types.ConditionNew, Mileage: models.IntPtr(900)},
			wantMileage: models.IntPtr(0),
			wantYear:    models.IntPtr(2026),
			wantCond:    types.ConditionNew,
		},
		{
			name:        "used untouched",
			condition:   "segunda mano",
			facts:       models.ExtractedFacts{Mileage: models.IntPtr(50000), Year: models.IntPtr(2015)},
			wantMileage: models.IntPtr(50000),
			wantYear:    models.IntPtr(2015),
			wantCond:    types.ConditionUsed,
		},
		{
			name:        "like new is used",
			condition:   "como nuevo",
			facts:       models.ExtractedFacts{Mileage: models.IntPtr(12000)},
			wantMileage: models.IntPtr(12000),
			wantCond:    types.ConditionUsed,
		},
		{
			name:  "unknown condition leaves nil fields nil",
			facts: models.ExtractedFacts{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(tt.facts, tt.condition, now)
			assert.Equal(t, tt.wantMileage, got.Mileage)
			assert.Equal(t, tt.wantYear, got.Year)
			assert.Equal(t, tt.wantCond, got.Condition)
		})
	}
}

// Re-applying the overrides to already normalized facts is a no-op.
func TestApplyIsIdempotent(t *testing.T) {
	conditions := []string{"", "new", "nueva", "usado", "como nuevo", "km 0", "excelente estado"}
	properties := gopter.NewProperties(nil)

	properties.Property("apply twice equals apply once", prop.ForAll(
		func(cond int, mileage, year int, hasMileage, hasYear bool) bool {
			facts := models.ExtractedFacts{}
			if hasMileage {
				facts.Mileage = models.IntPtr(mileage)
			}
			if hasYear {
				facts.Year = models.IntPtr(year)
			}
			c := conditions[cond]
			once := Apply(facts, c, now)
			twice := Apply(once, c, now)
			return assert.ObjectsAreEqual(once, twice)
		},
		gen.IntRange(0, len(conditions)-1),
		gen.IntRange(0, 300000),
		gen.IntRange(1950, 2030),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
