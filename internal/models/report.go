package models

import "time"

// ValuationReport is the synthesized result of a completed job
type ValuationReport struct {
	ID               string        `json:"id"`
	JobID            string        `json:"job_id"`
	Target           TargetVehicle `json:"target"`
	TargetPrice      *int          `json:"target_price"`
	InsufficientData bool          `json:"insufficient_data"`
	PriceMin         *int          `json:"price_min,omitempty"`
	PriceMax         *int          `json:"price_max,omitempty"`
	PricedCount      int           `json:"priced_count"`
	Comparables      []Comparable  `json:"comparables"`
	Persistence      PersistStats  `json:"persistence"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

// PersistStats summarizes what the market store gateway did for one job
type PersistStats struct {
	Flagged    int `json:"flagged"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}
