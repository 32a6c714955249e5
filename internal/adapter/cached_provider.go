package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/vehicle-valuation/internal/logging"
	"github.com/vehicle-valuation/internal/models"
)

// ResultCache stores search results by key
type ResultCache interface {
	GetResults(ctx context.Context, key string) ([]models.SearchResult, bool, error)
	SetResults(ctx context.Context, key string, results []models.SearchResult, ttl time.Duration) error
}

// CachedProvider serves repeated (query, engine, locale) triples from a cache
type CachedProvider struct {
	inner SearchProvider
	cache ResultCache
	ttl   time.Duration
}

// NewCachedProvider decorates inner with cache
func NewCachedProvider(inner SearchProvider, cache ResultCache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{inner: inner, cache: cache, ttl: ttl}
}

// CacheKey identifies one provider query
func CacheKey(text, engine, locale string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{engine, locale, strings.TrimSpace(text)}, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Query returns cached results when present. Cache failures fall through to
// the live provider.
func (p *CachedProvider) Query(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
	key := CacheKey(text, engine, locale)
	logger := logging.FromContext(ctx)

	if cached, ok, err := p.cache.GetResults(ctx, key); err != nil {
		logger.WithError(err).Warn("Search cache read failed")
	} else if ok {
		logger.WithField("query", text).Debug("Search cache hit")
		return cached, nil
	}

	results, err := p.inner.Query(ctx, text, engine, locale)
	if err != nil {
		return nil, err
	}
	if err := p.cache.SetResults(ctx, key, results, p.ttl); err != nil {
		logger.WithError(err).Warn("Search cache write failed")
	}
	return results, nil
}
