// Package service implements the valuation pipeline stages: comparable search,
// comparable normalization, market data persistence and report synthesis.
package service

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/vehicle-valuation/internal/adapter"
	"github.com/vehicle-valuation/internal/config"
	"github.com/vehicle-valuation/internal/logging"
	"github.com/vehicle-valuation/internal/metrics"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/parser"
	"github.com/vehicle-valuation/internal/ratelimit"
	"github.com/vehicle-valuation/internal/types"
)

// PageSource fetches the readable text of a listing page
type PageSource interface {
	FetchText(ctx context.Context, pageURL string) (string, error)
}

// SearchSettings configures the comparable search aggregator
type SearchSettings struct {
	Engine       string
	Locale       string
	Marketplaces []string // bare domains, e.g. "wallapop.com"
	MaxResults   int
	EnrichPages  int
	Scoring      config.ScoringConfig
	Bounds       parser.PriceBounds
}

// SearchOutcome carries the ranked comparables along with query accounting
type SearchOutcome struct {
	Comparables   []models.Comparable
	QueriesIssued int
	QueriesFailed int
	LastError     error
}

// Exhausted reports whether every issued query failed
func (o *SearchOutcome) Exhausted() bool {
	return o.QueriesIssued > 0 && o.QueriesFailed == o.QueriesIssued
}

// ComparableSearch issues query variants to a search provider and turns the
// hits into scored, deduplicated comparables.
type ComparableSearch struct {
	provider   adapter.SearchProvider
	pacer      *ratelimit.QueryPacer
	pages      PageSource
	facts      *parser.FactParser
	normalizer *parser.Normalizer
	settings   SearchSettings
}

// NewComparableSearch creates the aggregator. pacer and pages may be nil.
func NewComparableSearch(provider adapter.SearchProvider, pacer *ratelimit.QueryPacer, pages PageSource, settings SearchSettings) *ComparableSearch {
	if pacer == nil {
		pacer = ratelimit.NewQueryPacer(0)
	}
	if settings.MaxResults <= 0 {
		settings.MaxResults = 10
	}
	if settings.Bounds == (parser.PriceBounds{}) {
		settings.Bounds = parser.DefaultPriceBounds()
	}
	return &ComparableSearch{
		provider:   provider,
		pacer:      pacer,
		pages:      pages,
		facts:      parser.NewFactParser(settings.Bounds),
		normalizer: parser.NewNormalizer(nil),
		settings:   settings,
	}
}

type searchQuery struct {
	template string
	text     string
}

// queries builds the fixed template set for one target
func (s *ComparableSearch) queries(target models.TargetVehicle) []searchQuery {
	subject := strings.TrimSpace(target.Brand + " " + target.Model)
	base := fmt.Sprintf("%s %d", subject, target.Year)

	out := []searchQuery{{template: "sale", text: base + " venta"}}
	for _, domain := range s.settings.Marketplaces {
		out = append(out, searchQuery{template: "site:" + domain, text: fmt.Sprintf("%s site:%s", base, domain)})
	}
	return append(out, searchQuery{template: "phrase", text: fmt.Sprintf("%q precio", subject)})
}

// candidate remembers which target terms a hit mentioned so relevance can be
// recomputed after enrichment
type candidate struct {
	comparable  models.Comparable
	brandHit    bool
	modelHit    bool
	marketplace bool
}

// Search runs every query template for target and returns at most maxResults
// comparables ordered by relevance. A failing query is logged and skipped;
// only a cancelled ctx is returned as an error.
func (s *ComparableSearch) Search(ctx context.Context, target models.TargetVehicle, maxResults int) (*SearchOutcome, error) {
	if maxResults <= 0 {
		maxResults = s.settings.MaxResults
	}
	logger := logging.FromContext(ctx)
	outcome := &SearchOutcome{}

	var found []candidate
	for _, q := range s.queries(target) {
		if err := s.pacer.Wait(ctx); err != nil {
			return outcome, err
		}
		outcome.QueriesIssued++
		results, err := s.provider.Query(ctx, q.text, s.settings.Engine, s.settings.Locale)
		metrics.RecordProviderQuery(err)
		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			outcome.QueriesFailed++
			outcome.LastError = err
			logger.WithError(err).WithFields(map[string]interface{}{
				"query_template": q.template,
				"query":          q.text,
			}).Warn("Search query failed, continuing with remaining templates")
			continue
		}
		for _, r := range results {
			if c, ok := s.toCandidate(r, target); ok {
				found = append(found, c)
			}
		}
	}

	found = uniqueByURL(found)
	s.enrich(ctx, found, target)

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].comparable.Relevance > found[j].comparable.Relevance
	})
	if len(found) > maxResults {
		found = found[:maxResults]
	}

	outcome.Comparables = make([]models.Comparable, len(found))
	for i := range found {
		outcome.Comparables[i] = found[i].comparable
	}
	return outcome, nil
}

func (s *ComparableSearch) toCandidate(r models.SearchResult, target models.TargetVehicle) (candidate, bool) {
	link := strings.TrimSpace(r.URL)
	if link == "" {
		return candidate{}, false
	}
	text := r.Title + " " + r.Snippet
	brandHit := parser.Mentions(text, target.Brand)
	modelHit := parser.Mentions(text, target.Model)
	if !brandHit && !modelHit {
		return candidate{}, false
	}

	site, marketplace := s.sourceSite(link)
	bm := s.normalizer.Normalize(r.Title, r.Snippet)
	c := models.Comparable{
		Title:           r.Title,
		Snippet:         r.Snippet,
		URL:             link,
		SourceSite:      site,
		Brand:           bm.Brand,
		Model:           bm.Model,
		BrandConfidence: bm.Confidence,
	}
	c.ApplyFacts(s.facts.Parse(text))

	cand := candidate{comparable: c, brandHit: brandHit, modelHit: modelHit, marketplace: marketplace}
	cand.comparable.Relevance = s.relevance(&cand, target.Year)
	return cand, true
}

// relevance applies the configured point weights, capped
func (s *ComparableSearch) relevance(c *candidate, targetYear int) int {
	w := s.settings.Scoring
	score := w.Base
	if c.brandHit {
		score += w.BrandMention
	}
	if c.modelHit {
		score += w.ModelMention
	}
	if c.comparable.Price != nil {
		score += w.Price
	}
	if y := c.comparable.Year; y != nil && absInt(*y-targetYear) <= w.YearWindow {
		score += w.YearMatch
	}
	if c.comparable.Mileage != nil {
		score += w.Mileage
	}
	if c.marketplace {
		score += w.Marketplace
	}
	if w.Cap > 0 && score > w.Cap {
		score = w.Cap
	}
	return score
}

// enrich fetches listing pages for the first comparables that still lack a price
func (s *ComparableSearch) enrich(ctx context.Context, found []candidate, target models.TargetVehicle) {
	if s.pages == nil || s.settings.EnrichPages <= 0 {
		return
	}
	logger := logging.FromContext(ctx)
	fetched := 0
	for i := range found {
		if fetched >= s.settings.EnrichPages || ctx.Err() != nil {
			return
		}
		c := &found[i].comparable
		if c.Price != nil {
			continue
		}
		fetched++
		text, err := s.pages.FetchText(ctx, c.URL)
		if err != nil {
			logger.WithError(err).WithField("url", c.URL).Debug("Listing page fetch failed")
			continue
		}
		page := s.facts.Parse(text)
		if c.Price == nil {
			c.Price = page.Price
		}
		if c.Mileage == nil {
			c.Mileage = page.Mileage
		}
		if c.Year == nil {
			c.Year = page.Year
		}
		if c.Condition == types.ConditionUnknown {
			c.Condition = page.Condition
		}
		c.Enriched = true
		c.Relevance = s.relevance(&found[i], target.Year)
	}
}

// sourceSite labels a listing URL with its marketplace name, or Other
func (s *ComparableSearch) sourceSite(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return types.SourceOther, false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range s.settings.Marketplaces {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return marketplaceName(domain), true
		}
	}
	return types.SourceOther, false
}

var marketplaceNames = map[string]string{
	"wallapop.com":     "Wallapop",
	"milanuncios.com":  "Milanuncios",
	"coches.net":       "Coches.net",
	"autoscout24.es":   "AutoScout24",
	"mobile.de":        "mobile.de",
	"campingcar.es":    "CampingCar",
	"furgovw.org":      "FurgoVW",
	"autocaravanas.es": "Autocaravanas.es",
}

func marketplaceName(domain string) string {
	if name, ok := marketplaceNames[domain]; ok {
		return name
	}
	label := domain
	if i := strings.IndexByte(label, '.'); i > 0 {
		label = label[:i]
	}
	return parser.DefaultDictionary().Canonical(label)
}

// uniqueByURL keeps the first candidate for each URL, preserving order
func uniqueByURL(in []candidate) []candidate {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, c := range in {
		if _, dup := seen[c.comparable.URL]; dup {
			continue
		}
		seen[c.comparable.URL] = struct{}{}
		out = append(out, c)
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
