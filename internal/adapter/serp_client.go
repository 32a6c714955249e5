package adapter

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/models"
)

const serpProviderName = "serpapi"

// SerpClient queries a SerpAPI-compatible JSON search endpoint
type SerpClient struct {
	baseURL string
	apiKey  string
	country string
	client  *http.Client
}

// SerpClientConfig configures a SerpClient
type SerpClientConfig struct {
	BaseURL string
	APIKey  string
	Country string
	Timeout time.Duration
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

type serpResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"organic_results"`
}

// NewSerpClient creates a client for the given endpoint
func NewSerpClient(cfg SerpClientConfig) (*SerpClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("search base URL cannot be empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid search base URL: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &SerpClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		country: cfg.Country,
		client:  client,
	}, nil
}

// Query runs one search and returns its organic results in provider order
func (c *SerpClient) Query(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
	params := url.Values{}
	params.Set("q", text)
	params.Set("engine", engine)
	params.Set("hl", locale)
	if c.country != "" {
		params.Set("gl", c.country)
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search.json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, apperrors.NewProviderTimeoutError(serpProviderName)
		}
		if stderrors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperrors.NewProviderError(serpProviderName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, apperrors.NewProviderTimeoutError(serpProviderName)
		}
		return nil, apperrors.NewProviderError(serpProviderName, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.NewProviderRateLimitError(serpProviderName)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, apperrors.NewProviderError(serpProviderName, fmt.Errorf("HTTP error: %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.NewProviderRejectedError(serpProviderName, resp.StatusCode,
			fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, truncate(body, 200)))
	}

	var parsed serpResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.NewProviderError(serpProviderName, fmt.Errorf("failed to decode response: %w", err))
	}
	if parsed.Error != "" && len(parsed.OrganicResults) == 0 {
		// SerpAPI reports "no results" as an error string on a 200
		if strings.Contains(strings.ToLower(parsed.Error), "hasn't returned any results") {
			return []models.SearchResult{}, nil
		}
		return nil, apperrors.NewProviderError(serpProviderName, stderrors.New(parsed.Error))
	}

	results := make([]models.SearchResult, 0, len(parsed.OrganicResults))
	for _, r := range parsed.OrganicResults {
		if r.Link == "" {
			continue
		}
		results = append(results, models.SearchResult{Title: r.Title, Snippet: r.Snippet, URL: r.Link})
	}
	return results, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
