package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/models"
)

// CacheKeyType represents different types of cache keys
type CacheKeyType string

// CacheKeySearch is for provider search results
const CacheKeySearch CacheKeyType = "search"

// CacheService provides JSON caching on top of Redis
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{redis: redis, ttl: ttl}
}

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, p := range params {
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, ":")
}

// SetWithTTL stores a value as JSON; a zero ttl uses the service default
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, ttl); err != nil {
		return apperrors.NewCacheError("set", err)
	}
	return nil
}

// Get retrieves a value from cache and deserializes it into dest
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, apperrors.NewCacheError("get", err)
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// SearchCache caches provider results per query key
type SearchCache struct {
	cache *CacheService
}

// NewSearchCache creates a search result cache
func NewSearchCache(cache *CacheService) *SearchCache {
	return &SearchCache{cache: cache}
}

// GetResults returns cached results for key
func (s *SearchCache) GetResults(ctx context.Context, key string) ([]models.SearchResult, bool, error) {
	var results []models.SearchResult
	ok, err := s.cache.Get(ctx, s.cache.GenerateCacheKey(CacheKeySearch, key), &results)
	if err != nil || !ok {
		return nil, false, err
	}
	return results, true, nil
}

// SetResults stores results for key
func (s *SearchCache) SetResults(ctx context.Context, key string, results []models.SearchResult, ttl time.Duration) error {
	if results == nil {
		results = []models.SearchResult{}
	}
	return s.cache.SetWithTTL(ctx, s.cache.GenerateCacheKey(CacheKeySearch, key), results, ttl)
}
