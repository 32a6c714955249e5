package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-valuation/internal/models"
)

func newTestSearchCache(t *testing.T) (*SearchCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSearchCache(NewCacheService(NewRedisCacheFromClient(client), time.Hour)), mr
}

func TestSearchCacheRoundTrip(t *testing.T) {
	cache, mr := newTestSearchCache(t)
	ctx := context.Background()

	_, ok, err := cache.GetResults(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	want := []models.SearchResult{{Title: "Adria Twin", Snippet: "52.000 €", URL: "https://x/1"}}
	require.NoError(t, cache.SetResults(ctx, "abc", want, 10*time.Minute))

	got, ok, err := cache.GetResults(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
	assert.True(t, mr.Exists("search:abc"))
	assert.Equal(t, 10*time.Minute, mr.TTL("search:abc"))

	mr.FastForward(11 * time.Minute)
	_, ok, err = cache.GetResults(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires with its ttl")
}

func TestSearchCacheEmptyResultsAreCached(t *testing.T) {
	cache, _ := newTestSearchCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetResults(ctx, "none", nil, 0))
	got, ok, err := cache.GetResults(ctx, "none")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestSearchCacheUnavailable(t *testing.T) {
	cache, mr := newTestSearchCache(t)
	mr.Close()

	_, _, err := cache.GetResults(context.Background(), "abc")
	assert.Error(t, err)
}

func TestGenerateCacheKey(t *testing.T) {
	c := NewCacheService(nil, time.Minute)
	assert.Equal(t, "search:abc:es", c.GenerateCacheKey(CacheKeySearch, "ABC", "es"))
}
