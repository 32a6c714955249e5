package storage

import (
	"context"
	"time"

	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/types"
)

// MarketStore is the persisted market dataset. UpsertIfNew must be atomic:
// concurrent callers with equivalent records produce exactly one row.
type MarketStore interface {
	FindEquivalent(ctx context.Context, rec *models.MarketDataRecord, tol models.Tolerance) (*models.MarketDataRecord, error)
	Insert(ctx context.Context, rec *models.MarketDataRecord) (string, error)
	UpsertIfNew(ctx context.Context, rec *models.MarketDataRecord, tol models.Tolerance) (models.UpsertResult, error)
}

// JobMutation changes a job in place; returning an error aborts the update
type JobMutation func(job *models.ValuationJob) error

// JobStore persists valuation jobs and their reports
type JobStore interface {
	Create(ctx context.Context, job *models.ValuationJob) error
	Get(ctx context.Context, id string) (*models.ValuationJob, error)
	// Update applies fn to the stored job under a row lock and saves the result.
	Update(ctx context.Context, id string, fn JobMutation) (*models.ValuationJob, error)
	// Complete stores report and marks the job completed in one step.
	Complete(ctx context.Context, id string, report *models.ValuationReport, now time.Time) (*models.ValuationJob, error)
	ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.ValuationJob, error)
	GetReport(ctx context.Context, id string) (*models.ValuationReport, error)
}

// ObservationSink keeps the history of every comparable a job has seen
type ObservationSink interface {
	AppendObservations(ctx context.Context, obs []models.Observation) error
}

// DiscardObservations is an ObservationSink that drops everything
type DiscardObservations struct{}

// AppendObservations does nothing
func (DiscardObservations) AppendObservations(context.Context, []models.Observation) error {
	return nil
}
