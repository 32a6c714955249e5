package models

import (
	"testing"
	"time"
)

func TestEquivalentTo(t *testing.T) {
	day := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	base := MarketDataRecord{Brand: "Adria", Model: "Twin Plus 600", ModelYear: 2022, Price: 52000, Mileage: IntPtr(45000), TransactionDate: day}
	tol := DefaultTolerance()

	tests := []struct {
		name   string
		mutate func(r *MarketDataRecord)
		want   bool
	}{
		{name: "identical", mutate: func(r *MarketDataRecord) {}, want: true},
		{name: "case-insensitive brand and model", mutate: func(r *MarketDataRecord) { r.Brand = "ADRIA"; r.Model = "twin plus 600" }, want: true},
		{name: "price within tolerance", mutate: func(r *MarketDataRecord) { r.Price = 52500 }, want: true},
		{name: "price outside tolerance", mutate: func(r *MarketDataRecord) { r.Price = 52501 }, want: false},
		{name: "mileage within tolerance", mutate: func(r *MarketDataRecord) { r.Mileage = IntPtr(44000) }, want: true},
		{name: "mileage outside tolerance", mutate: func(r *MarketDataRecord) { r.Mileage = IntPtr(43999) }, want: false},
		{name: "one mileage missing", mutate: func(r *MarketDataRecord) { r.Mileage = nil }, want: false},
		{name: "different year", mutate: func(r *MarketDataRecord) { r.ModelYear = 2021 }, want: false},
		{name: "next day", mutate: func(r *MarketDataRecord) { r.TransactionDate = day.Add(24 * time.Hour) }, want: true},
		{name: "two days later", mutate: func(r *MarketDataRecord) { r.TransactionDate = day.Add(48 * time.Hour) }, want: false},
		{name: "different model", mutate: func(r *MarketDataRecord) { r.Model = "Twin Supreme" }, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.mutate(&other)
			if got := base.EquivalentTo(&other, tol); got != tt.want {
				t.Errorf("EquivalentTo() = %v, want %v", got, tt.want)
			}
			if got := other.EquivalentTo(&base, tol); got != tt.want {
				t.Errorf("EquivalentTo() is not symmetric")
			}
		})
	}
}

func TestEquivalentBothMileagesMissing(t *testing.T) {
	a := MarketDataRecord{Brand: "Hymer", Model: "B 550", ModelYear: 2019, Price: 60000}
	b := a
	if !a.EquivalentTo(&b, DefaultTolerance()) {
		t.Error("records without mileage should match each other")
	}
}
