package models

import (
	"time"

	"github.com/vehicle-valuation/internal/types"
)

// SearchResult is one raw hit returned by the search provider
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Comparable is a candidate sale listing found during a search
type Comparable struct {
	Title           string          `json:"title"`
	Snippet         string          `json:"snippet"`
	URL             string          `json:"url"`
	SourceSite      string          `json:"source_site"`
	Brand           string          `json:"brand"`
	Model           string          `json:"model"`
	BrandConfidence int             `json:"brand_confidence"`
	Price           *int            `json:"price"`
	Mileage         *int            `json:"mileage"`
	Year            *int            `json:"year"`
	Condition       types.Condition `json:"condition,omitempty"`
	Relevance       int             `json:"relevance"`
	Enriched        bool            `json:"enriched,omitempty"`
}

// Facts returns the comparable's extracted fields as parser output
func (c *Comparable) Facts() ExtractedFacts {
	return ExtractedFacts{Price: c.Price, Mileage: c.Mileage, Year: c.Year, Condition: c.Condition}
}

// ApplyFacts copies normalized fields back onto the comparable
func (c *Comparable) ApplyFacts(f ExtractedFacts) {
	c.Price, c.Mileage, c.Year, c.Condition = f.Price, f.Mileage, f.Year, f.Condition
}

// Observation is one comparable seen by one job, kept for market analytics
type Observation struct {
	JobID      string    `json:"job_id"`
	ObservedAt time.Time `json:"observed_at"`
	Comparable
}
