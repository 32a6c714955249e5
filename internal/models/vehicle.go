package models

import (
	"github.com/vehicle-valuation/internal/types"
)

// TargetVehicle identifies the vehicle being valued
type TargetVehicle struct {
	Brand   string `json:"brand"`
	Model   string `json:"model"`
	Year    int    `json:"year"`
	Mileage *int   `json:"mileage,omitempty"`
}

// ExtractedFacts is what the fact parser could read from free text.
// Absent fields stay nil; zero is a real value.
type ExtractedFacts struct {
	Price      *int            `json:"price"`
	Mileage    *int            `json:"mileage"`
	Year       *int            `json:"year"`
	BrandGuess *string         `json:"brand_guess"`
	Condition  types.Condition `json:"condition,omitempty"`
	Confidence int             `json:"confidence"`
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v
func StringPtr(v string) *string { return &v }
