package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/types"
)

// MemoryMarketStore is an in-process MarketStore for tests and the CLI
type MemoryMarketStore struct {
	mu      sync.Mutex
	records []*models.MarketDataRecord
	now     func() time.Time
}

// NewMemoryMarketStore creates an empty store
func NewMemoryMarketStore() *MemoryMarketStore {
	return &MemoryMarketStore{now: time.Now}
}

// FindEquivalent returns the oldest record equivalent to rec, or nil
func (s *MemoryMarketStore) FindEquivalent(ctx context.Context, rec *models.MarketDataRecord, tol models.Tolerance) (*models.MarketDataRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if found := s.findLocked(rec, tol); found != nil {
		c := *found
		return &c, nil
	}
	return nil, nil
}

// Insert stores rec unconditionally and returns its identifier
func (s *MemoryMarketStore) Insert(ctx context.Context, rec *models.MarketDataRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(rec), nil
}

// UpsertIfNew inserts rec unless an equivalent record exists
func (s *MemoryMarketStore) UpsertIfNew(ctx context.Context, rec *models.MarketDataRecord, tol models.Tolerance) (models.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return models.UpsertResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if found := s.findLocked(rec, tol); found != nil {
		return models.UpsertResult{Inserted: false, ID: found.ID}, nil
	}
	return models.UpsertResult{Inserted: true, ID: s.insertLocked(rec)}, nil
}

// Records returns copies of every stored record in insertion order
func (s *MemoryMarketStore) Records() []models.MarketDataRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MarketDataRecord, len(s.records))
	for i, r := range s.records {
		out[i] = *r
	}
	return out
}

func (s *MemoryMarketStore) findLocked(rec *models.MarketDataRecord, tol models.Tolerance) *models.MarketDataRecord {
	for _, r := range s.records {
		if r.EquivalentTo(rec, tol) {
			return r
		}
	}
	return nil
}

func (s *MemoryMarketStore) insertLocked(rec *models.MarketDataRecord) string {
	c := *rec
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = s.now().UTC()
	s.records = append(s.records, &c)
	return c.ID
}

// MemoryJobStore is an in-process JobStore. Every read returns a copy so
// callers never observe a half-applied mutation.
type MemoryJobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*models.ValuationJob
	reports map[string]*models.ValuationReport
}

// NewMemoryJobStore creates an empty store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:    make(map[string]*models.ValuationJob),
		reports: make(map[string]*models.ValuationReport),
	}
}

// Create stores a new job
func (s *MemoryJobStore) Create(ctx context.Context, job *models.ValuationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return apperrors.NewInternalError("duplicate job id "+job.ID, nil)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a snapshot of the job
func (s *MemoryJobStore) Get(ctx context.Context, id string) (*models.ValuationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NewJobNotFoundError(id)
	}
	return job.Clone(), nil
}

// Update applies fn to a copy and keeps it only when fn succeeds
func (s *MemoryJobStore) Update(ctx context.Context, id string, fn JobMutation) (*models.ValuationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NewJobNotFoundError(id)
	}
	next := job.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

// Complete stores report and completes the job atomically
func (s *MemoryJobStore) Complete(ctx context.Context, id string, report *models.ValuationReport, now time.Time) (*models.ValuationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NewJobNotFoundError(id)
	}
	next := job.Clone()
	if err := next.Complete(report.ID, now); err != nil {
		return nil, err
	}
	r := *report
	r.Comparables = append([]models.Comparable(nil), report.Comparables...)
	s.reports[report.ID] = &r
	s.jobs[id] = next
	return next.Clone(), nil
}

// ListByStatus returns up to limit jobs in status, newest first
func (s *MemoryJobStore) ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.ValuationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ValuationJob, 0)
	for _, job := range s.jobs {
		if status == "" || job.Status == status {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetReport returns a stored report
func (s *MemoryJobStore) GetReport(ctx context.Context, id string) (*models.ValuationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("report", id)
	}
	c := *r
	c.Comparables = append([]models.Comparable(nil), r.Comparables...)
	return &c, nil
}

// MemoryObservationSink collects observations in memory
type MemoryObservationSink struct {
	mu  sync.Mutex
	obs []models.Observation
}

// AppendObservations records obs
func (s *MemoryObservationSink) AppendObservations(ctx context.Context, obs []models.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append(s.obs, obs...)
	return nil
}

// Observations returns everything appended so far
func (s *MemoryObservationSink) Observations() []models.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Observation(nil), s.obs...)
}

var (
	_ MarketStore     = (*MemoryMarketStore)(nil)
	_ JobStore        = (*MemoryJobStore)(nil)
	_ ObservationSink = (*MemoryObservationSink)(nil)
	_ ObservationSink = DiscardObservations{}
)
