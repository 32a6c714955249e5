package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-valuation/internal/config"
	"github.com/vehicle-valuation/internal/models"
)

func TestNewProviderChain(t *testing.T) {
	cfg := config.SearchConfig{Provider: "serpapi", BaseURL: "https://serp.example", QueryTimeout: time.Second, CacheTTL: time.Hour}

	p, err := NewProviderChain(cfg, fastRetry(), nil, &mapCache{data: map[string][]models.SearchResult{}})
	require.NoError(t, err)
	_, cached := p.(*CachedProvider)
	assert.True(t, cached, "a cache with a positive TTL wraps the chain")

	p, err = NewProviderChain(cfg, fastRetry(), nil, nil)
	require.NoError(t, err)
	_, resilient := p.(*ResilientProvider)
	assert.True(t, resilient)

	cfg.Provider = "bing"
	_, err = NewProviderChain(cfg, fastRetry(), nil, nil)
	assert.Error(t, err)

	cfg.Provider, cfg.BaseURL = "", ""
	_, err = NewProviderChain(cfg, fastRetry(), nil, nil)
	assert.Error(t, err)
}
