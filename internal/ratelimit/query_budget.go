// Package ratelimit paces and budgets calls to the external search provider.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultWindowSize = 24 * time.Hour
	KeyPrefixQueries  = "search:budget:"
)

// consumeScript increments the window counter only while it stays within the limit.
var consumeScript = redis.NewScript(`
	local used = tonumber(redis.call('GET', KEYS[1]) or '0')
	local limit = tonumber(ARGV[1])
	if used + 1 > limit then
		return {0, used}
	end
	used = redis.call('INCR', KEYS[1])
	if used == 1 then
		redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
	end
	return {1, used}
`)

// QueryBudget is a provider query quota shared by every process through Redis.
type QueryBudget struct {
	redis      redis.Cmdable
	limit      int
	windowSize time.Duration
	now        func() time.Time
}

// QueryBudgetConfig holds configuration for the budget.
type QueryBudgetConfig struct {
	// Redis is required; the counter lives there.
	Redis redis.Cmdable
	// Limit is the number of queries allowed per window.
	Limit int
	// WindowSize defaults to one day.
	WindowSize time.Duration
}

// Validate checks if the configuration is valid.
func (c *QueryBudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", c.Limit)
	}
	if c.WindowSize < 0 {
		return errors.New("window size cannot be negative")
	}
	return nil
}

// NewQueryBudget creates a budget with the given configuration.
func NewQueryBudget(cfg *QueryBudgetConfig) (*QueryBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	window := cfg.WindowSize
	if window == 0 {
		window = DefaultWindowSize
	}
	return &QueryBudget{redis: cfg.Redis, limit: cfg.Limit, windowSize: window, now: time.Now}, nil
}

// Limit returns the configured per-window quota.
func (b *QueryBudget) Limit() int { return b.limit }

func (b *QueryBudget) windowKey() (string, time.Time) {
	start := b.now().UTC().Truncate(b.windowSize)
	return KeyPrefixQueries + strconv.FormatInt(start.Unix(), 10), start
}

// TryConsume takes one query from the current window. It reports false when
// the quota is spent. A Redis failure is returned as an error so the caller
// can decide whether to fail open.
func (b *QueryBudget) TryConsume(ctx context.Context) (bool, error) {
	key, start := b.windowKey()
	ttl := int(time.Until(start.Add(b.windowSize)).Seconds()) + 1
	if ttl < 1 {
		ttl = 1
	}

	res, err := consumeScript.Run(ctx, b.redis, []string{key}, b.limit, ttl).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("query budget: %w", err)
	}
	return res[0] == 1, nil
}

// Used returns how many queries the current window has consumed.
func (b *QueryBudget) Used(ctx context.Context) (int, error) {
	key, _ := b.windowKey()
	n, err := b.redis.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
