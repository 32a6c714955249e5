package models

import (
	"strings"
	"time"

	"github.com/vehicle-valuation/internal/types"
)

// MarketDataRecord is a persisted market fact: a real transaction or a comparable observation
type MarketDataRecord struct {
	ID              string         `json:"id" db:"id"`
	Brand           string         `json:"brand" db:"brand"`
	Model           string         `json:"model" db:"model"`
	Chassis         *string        `json:"chassis,omitempty" db:"chassis"`
	ModelYear       int            `json:"model_year" db:"model_year"`
	Price           int            `json:"price" db:"price"`
	Mileage         *int           `json:"mileage,omitempty" db:"mileage"`
	TransactionDate time.Time      `json:"transaction_date" db:"transaction_date"`
	Verified        bool           `json:"verified" db:"verified"`
	Condition       string         `json:"condition" db:"condition"`
	DataOrigin      string         `json:"data_origin" db:"data_origin"`
	DataType        types.DataType `json:"data_type" db:"data_type"`
	Country         string         `json:"country" db:"country"`
	Region          *string        `json:"region,omitempty" db:"region"`
	Fuel            *string        `json:"fuel,omitempty" db:"fuel"`
	Heating         *string        `json:"heating,omitempty" db:"heating"`
	Homologation    *string        `json:"homologation,omitempty" db:"homologation"`
	SourceURL       *string        `json:"source_url,omitempty" db:"source_url"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// UpsertResult reports whether upsert_if_new stored a new row
type UpsertResult struct {
	Inserted bool   `json:"inserted"`
	ID       string `json:"id"`
}

// Tolerance bounds the approximate equality used for duplicate detection
type Tolerance struct {
	Price      int
	Mileage    int
	DateWindow time.Duration
}

// DefaultTolerance returns ±500 price, ±1000 mileage and a ±1 day window
func DefaultTolerance() Tolerance {
	return Tolerance{Price: 500, Mileage: 1000, DateWindow: 24 * time.Hour}
}

// EquivalentTo reports whether r and o describe the same transaction.
// Brand and model compare case-insensitively; a missing mileage only
// matches another missing mileage.
func (r *MarketDataRecord) EquivalentTo(o *MarketDataRecord, tol Tolerance) bool {
	if !strings.EqualFold(strings.TrimSpace(r.Brand), strings.TrimSpace(o.Brand)) ||
		!strings.EqualFold(strings.TrimSpace(r.Model), strings.TrimSpace(o.Model)) ||
		r.ModelYear != o.ModelYear {
		return false
	}
	if abs(r.Price-o.Price) > tol.Price {
		return false
	}
	switch {
	case r.Mileage == nil && o.Mileage == nil:
	case r.Mileage == nil || o.Mileage == nil:
		return false
	case abs(*r.Mileage-*o.Mileage) > tol.Mileage:
		return false
	}
	gap := r.TransactionDate.Sub(o.TransactionDate)
	if gap < 0 {
		gap = -gap
	}
	return gap <= tol.DateWindow
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
