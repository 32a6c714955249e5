package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-valuation/internal/adapter"
	"github.com/vehicle-valuation/internal/config"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/parser"
	"github.com/vehicle-valuation/internal/types"
)

func defaultScoring() config.ScoringConfig {
	return config.ScoringConfig{
		Base: 50, BrandMention: 20, ModelMention: 20, Price: 15, YearMatch: 15,
		Mileage: 10, Marketplace: 10, YearWindow: 2, Cap: 100,
	}
}

func testSettings() SearchSettings {
	return SearchSettings{
		Engine:       "google",
		Locale:       "es",
		Marketplaces: []string{"wallapop.com", "milanuncios.com"},
		MaxResults:   10,
		Scoring:      defaultScoring(),
		Bounds:       parser.DefaultPriceBounds(),
	}
}

var adriaTarget = models.TargetVehicle{Brand: "Adria", Model: "Twin Plus 600", Year: 2022}

// staticProvider answers every query with the same results
func staticProvider(results ...models.SearchResult) adapter.SearchProvider {
	return adapter.ProviderFunc(func(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
		return results, nil
	})
}

func TestSearchQueries(t *testing.T) {
	s := NewComparableSearch(staticProvider(), nil, nil, testSettings())
	qs := s.queries(adriaTarget)

	require.Len(t, qs, 4)
	assert.Equal(t, "Adria Twin Plus 600 2022 venta", qs[0].text)
	assert.Equal(t, "Adria Twin Plus 600 2022 site:wallapop.com", qs[1].text)
	assert.Equal(t, "site:milanuncios.com", qs[2].template)
	assert.Equal(t, `"Adria Twin Plus 600" precio`, qs[3].text)
}

func TestSearchScoresAndRanks(t *testing.T) {
	provider := staticProvider(
		models.SearchResult{Title: "Adria Twin 2016", Snippet: "furgoneta camper", URL: "https://example.com/a"},
		models.SearchResult{Title: "Adria Twin Plus 600 SPB 2022 45.000 km 52.000 €", URL: "https://es.wallapop.com/item/b"},
		models.SearchResult{Title: "Piso en alquiler", Snippet: "centro ciudad", URL: "https://example.com/c"},
	)
	s := NewComparableSearch(provider, nil, nil, testSettings())

	out, err := s.Search(context.Background(), adriaTarget, 0)
	require.NoError(t, err)
	require.Len(t, out.Comparables, 2, "unrelated hit is discarded and repeats collapse")
	assert.Equal(t, 4, out.QueriesIssued)
	assert.Zero(t, out.QueriesFailed)

	best := out.Comparables[0]
	assert.Equal(t, "https://es.wallapop.com/item/b", best.URL)
	assert.Equal(t, 100, best.Relevance)
	assert.Equal(t, "Wallapop", best.SourceSite)
	assert.Equal(t, "Adria", best.Brand)
	assert.Equal(t, "Twin Plus 600 SPB", best.Model)
	require.NotNil(t, best.Price)
	assert.Equal(t, 52000, *best.Price)

	other := out.Comparables[1]
	assert.Equal(t, 70, other.Relevance)
	assert.Equal(t, types.SourceOther, other.SourceSite)
}

func TestSearchFailedTemplateDoesNotAbort(t *testing.T) {
	provider := adapter.ProviderFunc(func(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
		if strings.Contains(text, "site:") {
			return nil, errors.New("upstream 503")
		}
		return []models.SearchResult{{Title: "Adria Twin Plus 600 " + text, URL: "https://example.com/" + fmt.Sprint(len(text))}}, nil
	})
	s := NewComparableSearch(provider, nil, nil, testSettings())

	out, err := s.Search(context.Background(), adriaTarget, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, out.QueriesIssued)
	assert.Equal(t, 2, out.QueriesFailed)
	assert.False(t, out.Exhausted())
	assert.Len(t, out.Comparables, 2)
}

func TestSearchAllTemplatesFail(t *testing.T) {
	provider := adapter.ProviderFunc(func(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
		return nil, errors.New("down")
	})
	s := NewComparableSearch(provider, nil, nil, testSettings())

	out, err := s.Search(context.Background(), adriaTarget, 0)
	require.NoError(t, err, "total failure is an empty result, not an error")
	assert.Empty(t, out.Comparables)
	assert.True(t, out.Exhausted())
	assert.Error(t, out.LastError)
}

func TestSearchHonorsMaxResultsAndStableTies(t *testing.T) {
	var results []models.SearchResult
	for i := 0; i < 6; i++ {
		results = append(results, models.SearchResult{Title: "Adria caravana", URL: fmt.Sprintf("https://example.com/%d", i)})
	}
	s := NewComparableSearch(staticProvider(results...), nil, nil, testSettings())

	out, err := s.Search(context.Background(), adriaTarget, 3)
	require.NoError(t, err)
	require.Len(t, out.Comparables, 3)
	for i, c := range out.Comparables {
		assert.Equal(t, fmt.Sprintf("https://example.com/%d", i), c.URL, "ties keep encounter order")
	}
}

type fakePages map[string]string

func (f fakePages) FetchText(ctx context.Context, pageURL string) (string, error) {
	if text, ok := f[pageURL]; ok {
		return text, nil
	}
	return "", errors.New("not found")
}

func TestSearchEnrichesPricelessComparables(t *testing.T) {
	provider := staticProvider(
		models.SearchResult{Title: "Adria Twin Plus 600", Snippet: "ver anuncio", URL: "https://example.com/enrich"},
		models.SearchResult{Title: "Adria Twin Plus 600", Snippet: "sin datos", URL: "https://example.com/broken"},
	)
	settings := testSettings()
	settings.EnrichPages = 2
	pages := fakePages{"https://example.com/enrich": "Adria Twin Plus 600 del 2021, 60.000 km. Precio 41.500 €"}
	s := NewComparableSearch(provider, nil, pages, settings)

	out, err := s.Search(context.Background(), adriaTarget, 0)
	require.NoError(t, err)
	require.Len(t, out.Comparables, 2)

	enriched := out.Comparables[0]
	assert.Equal(t, "https://example.com/enrich", enriched.URL)
	assert.True(t, enriched.Enriched)
	require.NotNil(t, enriched.Price)
	assert.Equal(t, 41500, *enriched.Price)
	assert.Equal(t, 100, enriched.Relevance)

	assert.False(t, out.Comparables[1].Enriched)
	assert.Nil(t, out.Comparables[1].Price)
}

func TestSearchStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewComparableSearch(staticProvider(), nil, nil, testSettings())
	_, err := s.Search(ctx, adriaTarget, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

// The deduplicated list holds each URL once, with its first-seen relevance.
func TestUniqueByURLProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("first occurrence wins", prop.ForAll(
		func(keys []int) bool {
			in := make([]candidate, len(keys))
			first := make(map[string]int)
			for i, k := range keys {
				u := fmt.Sprintf("https://example.com/%d", k)
				in[i] = candidate{comparable: models.Comparable{URL: u, Relevance: i}}
				if _, ok := first[u]; !ok {
					first[u] = i
				}
			}
			out := uniqueByURL(in)
			if len(out) != len(first) {
				return false
			}
			seen := make(map[string]bool)
			for _, c := range out {
				if seen[c.comparable.URL] || first[c.comparable.URL] != c.comparable.Relevance {
					return false
				}
				seen[c.comparable.URL] = true
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 8)),
	))

	properties.TestingRun(t)
}

func TestMarketplaceName(t *testing.T) {
	assert.Equal(t, "Milanuncios", marketplaceName("milanuncios.com"))
	assert.Equal(t, "Caravanas", marketplaceName("caravanas.de"))
}
