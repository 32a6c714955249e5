package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// QueryPacer spaces successive provider queries by a fixed delay. One pacer is
// shared by all jobs in a process so concurrent valuations do not multiply the
// outbound rate.
type QueryPacer struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// NewQueryPacer returns a pacer allowing one query per delay. A non-positive
// delay disables pacing.
func NewQueryPacer(delay time.Duration) *QueryPacer {
	if delay <= 0 {
		return &QueryPacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &QueryPacer{limiter: rate.NewLimiter(rate.Every(delay), 1), delay: delay}
}

// Wait blocks until the next query may be issued or ctx is done.
func (p *QueryPacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Delay returns the configured spacing.
func (p *QueryPacer) Delay() time.Duration { return p.delay }
