package adapter

import (
	"fmt"

	"github.com/vehicle-valuation/internal/circuitbreaker"
	"github.com/vehicle-valuation/internal/config"
	"github.com/vehicle-valuation/internal/retry"
)

// NewProviderChain builds the production provider: the HTTP client wrapped
// for resilience, then for caching. budget and cache are optional.
func NewProviderChain(cfg config.SearchConfig, retryCfg *retry.RetryConfig, budget Budget, cache ResultCache) (SearchProvider, error) {
	if cfg.Provider != "" && cfg.Provider != serpProviderName {
		return nil, fmt.Errorf("unsupported search provider %q", cfg.Provider)
	}
	client, err := NewSerpClient(SerpClientConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Country: cfg.Country,
		Timeout: cfg.QueryTimeout,
	})
	if err != nil {
		return nil, err
	}

	var provider SearchProvider = NewResilientProvider(client, ResilienceConfig{
		Name:    serpProviderName,
		Timeout: cfg.QueryTimeout,
		Retry:   retryCfg,
		Breaker: circuitbreaker.DefaultConfig(serpProviderName),
		Budget:  budget,
	})
	if cache != nil && cfg.CacheTTL > 0 {
		provider = NewCachedProvider(provider, cache, cfg.CacheTTL)
	}
	return provider, nil
}
