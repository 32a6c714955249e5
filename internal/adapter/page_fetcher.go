package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"

	"github.com/vehicle-valuation/internal/logging"
)

const maxPageText = 16 << 10

// PageFetcher downloads a listing page and returns its readable text
type PageFetcher struct {
	collector *colly.Collector
}

// NewPageFetcher creates a fetcher whose requests give up after timeout
func NewPageFetcher(timeout time.Duration) *PageFetcher {
	c := colly.NewCollector(colly.AllowURLRevisit(), colly.MaxBodySize(2<<20))
	if timeout > 0 {
		c.SetRequestTimeout(timeout)
	}
	return &PageFetcher{collector: c}
}

// FetchText returns the page title, meta description and body text
func (f *PageFetcher) FetchText(ctx context.Context, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	logger := logging.FromContext(ctx).WithField("url", pageURL)

	// callbacks are not inherited by clones
	collector := f.collector.Clone()
	extensions.RandomUserAgent(collector)
	extensions.Referer(collector)
	var title, description, body string
	var fetchErr error

	collector.OnHTML("head > title", func(e *colly.HTMLElement) {
		title = strings.TrimSpace(e.Text)
	})
	collector.OnHTML(`meta[name="description"], meta[property="og:description"]`, func(e *colly.HTMLElement) {
		if description == "" {
			description = strings.TrimSpace(e.Attr("content"))
		}
	})
	collector.OnHTML("body", func(e *colly.HTMLElement) {
		body = strings.Join(strings.Fields(e.Text), " ")
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("fetch %s: status %d: %w", pageURL, r.StatusCode, err)
	})

	if err := collector.Visit(pageURL); err != nil && fetchErr == nil {
		fetchErr = fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	collector.Wait()
	if fetchErr != nil {
		logger.WithError(fetchErr).Debug("Listing page fetch failed")
		return "", fetchErr
	}

	if len(body) > maxPageText {
		body = strings.ToValidUTF8(body[:maxPageText], "")
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{title, description, body} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n"), nil
}
