// Package adapter talks to the external search provider and to listing pages.
package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/vehicle-valuation/internal/models"
)

// SearchProvider runs one web search. Implementations are unreliable and
// rate-limited; callers must not assume ordering or completeness.
type SearchProvider interface {
	Query(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error)
}

// ProviderFunc adapts a function to SearchProvider
type ProviderFunc func(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error)

// Query calls f
func (f ProviderFunc) Query(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
	return f(ctx, text, engine, locale)
}

// ProviderHealth represents the health status of the search provider
type ProviderHealth struct {
	Name             string        `json:"name"`
	TotalRequests    int64         `json:"totalRequests"`
	SuccessfulReqs   int64         `json:"successfulRequests"`
	FailedReqs       int64         `json:"failedRequests"`
	SuccessRate      float64       `json:"successRate"`
	AverageLatency   time.Duration `json:"averageLatency"`
	LastSuccess      time.Time     `json:"lastSuccess"`
	LastFailure      time.Time     `json:"lastFailure"`
	ConsecutiveFails int           `json:"consecutiveFails"`
	IsHealthy        bool          `json:"isHealthy"`
}

// HealthTracker records request outcomes for a provider
type HealthTracker struct {
	mu sync.RWMutex

	name             string
	totalRequests    int64
	successfulReqs   int64
	failedReqs       int64
	totalLatency     time.Duration
	lastSuccess      time.Time
	lastFailure      time.Time
	consecutiveFails int

	maxConsecutiveFails int     // consecutive failures before marking unhealthy
	minSuccessRate      float64 // minimum success rate to be considered healthy
}

// NewHealthTracker creates a tracker with default thresholds
func NewHealthTracker(name string) *HealthTracker {
	return &HealthTracker{
		name:                name,
		maxConsecutiveFails: 5,
		minSuccessRate:      0.5,
	}
}

// RecordSuccess records a successful request
func (h *HealthTracker) RecordSuccess(duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests++
	h.successfulReqs++
	h.totalLatency += duration
	h.lastSuccess = time.Now()
	h.consecutiveFails = 0
}

// RecordFailure records a failed request
func (h *HealthTracker) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests++
	h.failedReqs++
	h.lastFailure = time.Now()
	h.consecutiveFails++
}

// GetHealth returns a snapshot of the provider health
func (h *HealthTracker) GetHealth() *ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var successRate float64
	if h.totalRequests > 0 {
		successRate = float64(h.successfulReqs) / float64(h.totalRequests)
	}

	var avgLatency time.Duration
	if h.successfulReqs > 0 {
		avgLatency = h.totalLatency / time.Duration(h.successfulReqs)
	}

	return &ProviderHealth{
		Name:             h.name,
		TotalRequests:    h.totalRequests,
		SuccessfulReqs:   h.successfulReqs,
		FailedReqs:       h.failedReqs,
		SuccessRate:      successRate,
		AverageLatency:   avgLatency,
		LastSuccess:      h.lastSuccess,
		LastFailure:      h.lastFailure,
		ConsecutiveFails: h.consecutiveFails,
		IsHealthy:        h.isHealthyLocked(),
	}
}

// IsHealthy returns true if the provider is considered healthy
func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isHealthyLocked()
}

// must be called with lock held
func (h *HealthTracker) isHealthyLocked() bool {
	if h.consecutiveFails >= h.maxConsecutiveFails {
		return false
	}
	// only judge the success rate once there is enough data
	if h.totalRequests >= 10 {
		if float64(h.successfulReqs)/float64(h.totalRequests) < h.minSuccessRate {
			return false
		}
	}
	return true
}

// SetHealthThresholds configures health check thresholds
func (h *HealthTracker) SetHealthThresholds(maxConsecutiveFails int, minSuccessRate float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if maxConsecutiveFails > 0 {
		h.maxConsecutiveFails = maxConsecutiveFails
	}
	if minSuccessRate > 0 && minSuccessRate <= 1.0 {
		h.minSuccessRate = minSuccessRate
	}
}
