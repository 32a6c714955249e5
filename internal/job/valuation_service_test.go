package job

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-valuation/internal/adapter"
	"github.com/vehicle-valuation/internal/config"
	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/parser"
	"github.com/vehicle-valuation/internal/retry"
	"github.com/vehicle-valuation/internal/service"
	"github.com/vehicle-valuation/internal/storage"
	"github.com/vehicle-valuation/internal/types"
)

var adriaResults = []models.SearchResult{
	{Title: "Adria Twin Plus 600 SPB 2022 - 45.000 km", Snippet: "Precio 52.000 €", URL: "https://es.wallapop.com/item/adria-1"},
	{Title: "Adria Twin Plus 600 del 2021", Snippet: "58.000 km, 49.500 €", URL: "https://www.milanuncios.com/autocaravanas/adria-2.htm"},
	{Title: "Autocaravana Adria Twin", Snippet: "2020, poco uso", URL: "https://example.com/adria-3"},
	{Title: "Piso en venta", Snippet: "3 habitaciones 150.000 €", URL: "https://example.com/flat"},
	{Title: "Bicicleta de montaña", Snippet: "como nueva", URL: "https://example.com/bike"},
}

// recordingStore keeps every snapshot a mutation produced
type recordingStore struct {
	*storage.MemoryJobStore
	mu        sync.Mutex
	snapshots []*models.ValuationJob
}

func (r *recordingStore) record(job *models.ValuationJob, err error) (*models.ValuationJob, error) {
	if err == nil {
		r.mu.Lock()
		r.snapshots = append(r.snapshots, job.Clone())
		r.mu.Unlock()
	}
	return job, err
}

func (r *recordingStore) Update(ctx context.Context, id string, fn storage.JobMutation) (*models.ValuationJob, error) {
	return r.record(r.MemoryJobStore.Update(ctx, id, fn))
}

func (r *recordingStore) Complete(ctx context.Context, id string, report *models.ValuationReport, now time.Time) (*models.ValuationJob, error) {
	return r.record(r.MemoryJobStore.Complete(ctx, id, report, now))
}

// monotonic checks that progress never decreases and nothing follows a terminal state
func (r *recordingStore) monotonic() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 1; i < len(r.snapshots); i++ {
		prev, cur := r.snapshots[i-1], r.snapshots[i]
		if cur.Progress < prev.Progress || prev.Status.IsTerminal() {
			return false
		}
	}
	return true
}

type fixture struct {
	svc     *ValuationService
	store   *recordingStore
	market  *storage.MemoryMarketStore
	history *storage.MemoryObservationSink
}

func newFixture(t *testing.T, provider adapter.SearchProvider, workers int) *fixture {
	t.Helper()
	fastRetry := &retry.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	f := &fixture{
		store:   &recordingStore{MemoryJobStore: storage.NewMemoryJobStore()},
		market:  storage.NewMemoryMarketStore(),
		history: &storage.MemoryObservationSink{},
	}
	search := service.NewComparableSearch(provider, nil, nil, service.SearchSettings{
		Engine:       "google",
		Locale:       "es",
		Marketplaces: []string{"wallapop.com", "milanuncios.com"},
		MaxResults:   10,
		Scoring: config.ScoringConfig{
			Base: 50, BrandMention: 20, ModelMention: 20, Price: 15, YearMatch: 15,
			Mileage: 10, Marketplace: 10, YearWindow: 2, Cap: 100,
		},
	})
	f.svc = NewValuationService(Dependencies{
		Store:        f.store,
		Search:       search,
		Gateway:      service.NewMarketGateway(f.market, models.DefaultTolerance(), fastRetry, "ES"),
		Reports:      service.NewReportBuilder(2, 0.05),
		Observations: f.history,
	}, Config{
		Workers:      workers,
		JobTimeout:   5 * time.Second,
		MaxResults:   10,
		Plausibility: service.Plausibility{Bounds: parser.DefaultPriceBounds(), MinYear: 1950, MaxMileage: 1500000},
		Retry:        fastRetry,
	})
	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(func() { f.svc.Shutdown(context.Background()) })
	return f
}

func (f *fixture) waitTerminal(t *testing.T, id string) *models.ValuationJob {
	t.Helper()
	var job *models.ValuationJob
	require.Eventually(t, func() bool {
		var err error
		job, err = f.svc.GetStatus(context.Background(), id)
		return err == nil && job.Status.IsTerminal()
	}, 3*time.Second, 5*time.Millisecond)
	return job
}

func staticResults(results []models.SearchResult) adapter.SearchProvider {
	return adapter.ProviderFunc(func(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
		return results, nil
	})
}

func TestValuationEndToEnd(t *testing.T) {
	f := newFixture(t, staticResults(adriaResults), 2)
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, &SubmitInput{Target: models.TargetVehicle{Brand: "Adria", Model: "Twin Plus 600", Year: 2022}, UserRef: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, types.JobPending, job.Status)

	done := f.waitTerminal(t, job.ID)
	require.Equal(t, types.JobCompleted, done.Status, "error: %v", done.ErrorDetail)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, 4, done.ResourceUsage, "one unit per provider query")
	require.NotNil(t, done.ReportID)
	require.NotNil(t, done.ElapsedMs)

	report, err := f.svc.GetReport(ctx, *done.ReportID)
	require.NoError(t, err)
	require.Len(t, report.Comparables, 3)
	for _, c := range report.Comparables {
		assert.GreaterOrEqual(t, c.Relevance, 50, c.URL)
	}
	assert.False(t, report.InsufficientData)
	require.NotNil(t, report.TargetPrice)
	assert.Equal(t, 2, report.PricedCount)
	assert.Equal(t, models.PersistStats{Flagged: 2, Inserted: 2}, report.Persistence)

	assert.Len(t, f.market.Records(), 2)
	assert.Len(t, f.history.Observations(), 3)
	assert.True(t, f.store.monotonic())
}

func TestValuationIsIdempotentAcrossJobs(t *testing.T) {
	f := newFixture(t, staticResults(adriaResults), 2)
	target := models.TargetVehicle{Brand: "Adria", Model: "Twin Plus 600", Year: 2022}

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := f.svc.Submit(context.Background(), &SubmitInput{Target: target})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		assert.Equal(t, types.JobCompleted, f.waitTerminal(t, id).Status)
	}
	assert.Len(t, f.market.Records(), 2, "concurrent jobs never duplicate market rows")
}

func TestValuationInvalidVehicle(t *testing.T) {
	f := newFixture(t, staticResults(adriaResults), 1)
	job, err := f.svc.Submit(context.Background(), &SubmitInput{Target: models.TargetVehicle{Brand: "Fiat", Model: "Fiat", Year: 2020}})
	require.NoError(t, err)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, types.JobFailed, done.Status)
	require.NotNil(t, done.ErrorCode)
	assert.Equal(t, apperrors.CodeInvalidVehicle, *done.ErrorCode)
	assert.NotNil(t, done.ErrorMessage)
	assert.NotNil(t, done.ErrorDetail)
	assert.Nil(t, done.ReportID)
}

func TestValuationProviderExhausted(t *testing.T) {
	provider := adapter.ProviderFunc(func(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
		return nil, apperrors.NewProviderError("stub", errors.New("down"))
	})
	f := newFixture(t, provider, 1)
	job, err := f.svc.Submit(context.Background(), &SubmitInput{Target: models.TargetVehicle{Brand: "Adria", Model: "Twin", Year: 2022}})
	require.NoError(t, err)

	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, types.JobFailed, done.Status)
	assert.Equal(t, apperrors.CodeProviderExhausted, *done.ErrorCode)
	assert.Contains(t, *done.ErrorDetail, "down")
}

func TestValuationWithoutComparablesCompletes(t *testing.T) {
	f := newFixture(t, staticResults(nil), 1)
	job, err := f.svc.Submit(context.Background(), &SubmitInput{Target: models.TargetVehicle{Brand: "Adria", Model: "Twin", Year: 2022}})
	require.NoError(t, err)

	done := f.waitTerminal(t, job.ID)
	require.Equal(t, types.JobCompleted, done.Status)
	report, err := f.svc.GetReport(context.Background(), *done.ReportID)
	require.NoError(t, err)
	assert.True(t, report.InsufficientData)
	assert.Empty(t, report.Comparables)
}

// blockingProvider holds every query until released or the context ends
type blockingProvider struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu      sync.Mutex
	queries []string
}

func newBlockingProvider() *blockingProvider {
	return &blockingProvider{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingProvider) Query(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
	b.mu.Lock()
	b.queries = append(b.queries, text)
	b.mu.Unlock()
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return adriaResults, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingProvider) Release() { b.once.Do(func() { close(b.release) }) }

// queried counts the queries whose text mentions phrase
func (b *blockingProvider) queried(phrase string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, q := range b.queries {
		if strings.Contains(q, phrase) {
			n++
		}
	}
	return n
}

func TestValuationCancelAtCheckpoint(t *testing.T) {
	provider := newBlockingProvider()
	f := newFixture(t, provider, 1)
	defer provider.Release()
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, &SubmitInput{Target: models.TargetVehicle{Brand: "Adria", Model: "Twin Plus 600", Year: 2022}})
	require.NoError(t, err)
	<-provider.entered

	snap, err := f.svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, snap.CancelRequested)
	assert.Equal(t, types.JobProcessing, snap.Status, "in-flight call is not interrupted")

	provider.Release()
	done := f.waitTerminal(t, job.ID)
	assert.Equal(t, types.JobFailed, done.Status)
	assert.Equal(t, apperrors.CodeJobCancelled, *done.ErrorCode)
	assert.Empty(t, f.market.Records(), "no stage runs after the checkpoint")

	_, err = f.svc.Cancel(ctx, job.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeIllegalTransition))
}

func TestValuationCancelQueuedNeverRuns(t *testing.T) {
	provider := newBlockingProvider()
	f := newFixture(t, provider, 1)
	defer provider.Release()
	ctx := context.Background()

	running, err := f.svc.Submit(ctx, &SubmitInput{Target: models.TargetVehicle{Brand: "Adria", Model: "Twin Plus 600", Year: 2022}})
	require.NoError(t, err)
	<-provider.entered

	queued, err := f.svc.Submit(ctx, &SubmitInput{Target: models.TargetVehicle{Brand: "Knaus", Model: "Sky TI 650", Year: 2019}})
	require.NoError(t, err)

	snap, err := f.svc.Cancel(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, snap.Status, "queued job fails immediately")
	assert.True(t, snap.CancelRequested)
	require.NotNil(t, snap.ErrorCode)
	assert.Equal(t, apperrors.CodeJobCancelled, *snap.ErrorCode)

	provider.Release()
	require.Equal(t, types.JobCompleted, f.waitTerminal(t, running.ID).Status)

	// the worker has picked up and skipped the cancelled job by the time the queue drains
	require.Eventually(t, func() bool { return f.svc.queue.Len() == 0 }, time.Second, 5*time.Millisecond)
	f.svc.Shutdown(ctx)

	done, err := f.svc.GetStatus(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, done.Status)
	assert.Equal(t, 0, done.Progress)
	assert.Equal(t, 0, done.ResourceUsage)
	assert.Zero(t, provider.queried("Knaus"), "no provider query for a cancelled job")
	assert.Positive(t, provider.queried("Adria"))

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, snap := range f.store.snapshots {
		if snap.ID == queued.ID {
			assert.NotEqual(t, types.JobProcessing, snap.Status, "cancelled job never observed processing")
		}
	}
}

func TestValuationShutdownFailsQueuedAndRunning(t *testing.T) {
	provider := newBlockingProvider()
	f := newFixture(t, provider, 1)
	ctx := context.Background()
	target := models.TargetVehicle{Brand: "Adria", Model: "Twin", Year: 2022}

	running, err := f.svc.Submit(ctx, &SubmitInput{Target: target})
	require.NoError(t, err)
	<-provider.entered
	queued, err := f.svc.Submit(ctx, &SubmitInput{Target: target})
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	f.svc.Shutdown(stopCtx)

	for _, id := range []string{running.ID, queued.ID} {
		job, err := f.svc.GetStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.JobFailed, job.Status, id)
		assert.Equal(t, apperrors.CodeJobCancelled, *job.ErrorCode, id)
	}

	_, err = f.svc.Submit(ctx, &SubmitInput{Target: target})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceUnavailable))
}

func TestValuationStartRecoversJobs(t *testing.T) {
	store := storage.NewMemoryJobStore()
	ctx := context.Background()
	now := time.Now()
	pending := models.NewValuationJob("pending-1", models.TargetVehicle{Brand: "Adria", Model: "Twin", Year: 2022}, "", "", now)
	orphan := models.NewValuationJob("orphan-1", models.TargetVehicle{Brand: "Adria", Model: "Twin", Year: 2022}, "", "", now)
	require.NoError(t, store.Create(ctx, pending))
	require.NoError(t, store.Create(ctx, orphan))
	_, err := store.Update(ctx, orphan.ID, func(j *models.ValuationJob) error { return j.Start(now) })
	require.NoError(t, err)

	search := service.NewComparableSearch(staticResults(adriaResults), nil, nil, service.SearchSettings{})
	svc := NewValuationService(Dependencies{
		Store:   store,
		Search:  search,
		Gateway: service.NewMarketGateway(storage.NewMemoryMarketStore(), models.DefaultTolerance(), nil, "ES"),
	}, Config{Workers: 1, Plausibility: service.Plausibility{Bounds: parser.DefaultPriceBounds(), MinYear: 1950, MaxMileage: 1500000}})
	require.NoError(t, svc.Start(ctx))
	defer svc.Shutdown(ctx)

	got, err := svc.GetStatus(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, got.Status)

	require.Eventually(t, func() bool {
		j, err := svc.GetStatus(ctx, pending.ID)
		return err == nil && j.Status == types.JobCompleted
	}, 3*time.Second, 5*time.Millisecond)
}

// Whatever the mix of failing templates, a job's snapshots only move forward
// and it always ends terminal with a report exactly when completed.
func TestJobProgressMonotonicProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("progress never decreases", prop.ForAll(
		func(failMask uint8, results int, invalid bool) bool {
			calls := 0
			var mu sync.Mutex
			provider := adapter.ProviderFunc(func(ctx context.Context, text, engine, locale string) ([]models.SearchResult, error) {
				mu.Lock()
				n := calls
				calls++
				mu.Unlock()
				if failMask&(1<<uint(n%8)) != 0 {
					return nil, errors.New("flaky")
				}
				return adriaResults[:results], nil
			})
			store := &recordingStore{MemoryJobStore: storage.NewMemoryJobStore()}
			svc := NewValuationService(Dependencies{
				Store:   store,
				Search:  service.NewComparableSearch(provider, nil, nil, service.SearchSettings{Marketplaces: []string{"wallapop.com"}}),
				Gateway: service.NewMarketGateway(storage.NewMemoryMarketStore(), models.DefaultTolerance(), nil, "ES"),
			}, Config{Plausibility: service.Plausibility{Bounds: parser.DefaultPriceBounds(), MinYear: 1950, MaxMileage: 1500000}})

			target := models.TargetVehicle{Brand: "Adria", Model: "Twin", Year: 2022}
			if invalid {
				target.Model = "Adria"
			}
			job := models.NewValuationJob("prop", target, "", "", time.Now())
			if err := store.Create(context.Background(), job); err != nil {
				return false
			}
			svc.Run(context.Background(), job.ID)

			final, err := store.Get(context.Background(), job.ID)
			if err != nil || !final.Status.IsTerminal() {
				return false
			}
			if (final.Status == types.JobCompleted) != (final.ReportID != nil) {
				return false
			}
			return store.monotonic()
		},
		gen.UInt8(),
		gen.IntRange(0, len(adriaResults)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
