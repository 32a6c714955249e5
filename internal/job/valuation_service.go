// Package job runs valuation jobs asynchronously: submission, the staged
// pipeline with progress checkpoints, cancellation and the worker pool.
package job

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/logging"
	"github.com/vehicle-valuation/internal/metrics"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/retry"
	"github.com/vehicle-valuation/internal/service"
	"github.com/vehicle-valuation/internal/storage"
	"github.com/vehicle-valuation/internal/types"
)

// ValuationJobs is the job API consumed by the host application
type ValuationJobs interface {
	Submit(ctx context.Context, input *SubmitInput) (*models.ValuationJob, error)
	GetStatus(ctx context.Context, jobID string) (*models.ValuationJob, error)
	Cancel(ctx context.Context, jobID string) (*models.ValuationJob, error)
	List(ctx context.Context, status types.JobStatus, limit int) ([]*models.ValuationJob, error)
	GetReport(ctx context.Context, reportID string) (*models.ValuationReport, error)
}

// SubmitInput identifies the vehicle to value and its owner
type SubmitInput struct {
	Target     models.TargetVehicle `json:"target"`
	UserRef    string               `json:"user_ref,omitempty"`
	VehicleRef string               `json:"vehicle_ref,omitempty"`
}

// Searcher finds comparables for a target
type Searcher interface {
	Search(ctx context.Context, target models.TargetVehicle, maxResults int) (*service.SearchOutcome, error)
}

// Persister stores flagged comparables as market data
type Persister interface {
	PersistComparables(ctx context.Context, comps []models.Comparable, now time.Time) models.PersistStats
}

// Config tunes the orchestrator
type Config struct {
	Workers      int
	JobTimeout   time.Duration
	MaxResults   int
	Plausibility service.Plausibility
	Retry        *retry.RetryConfig
}

// Dependencies are the collaborators a ValuationService drives
type Dependencies struct {
	Store        storage.JobStore
	Search       Searcher
	Gateway      Persister
	Reports      *service.ReportBuilder
	Observations storage.ObservationSink
	Logger       *logging.Logger
}

// ValuationService implements ValuationJobs on a JobStore and a worker Queue
type ValuationService struct {
	store        storage.JobStore
	search       Searcher
	gateway      Persister
	reports      *service.ReportBuilder
	observations storage.ObservationSink
	logger       *logging.Logger
	cfg          Config
	queue        *Queue
	now          func() time.Time
}

// NewValuationService wires the orchestrator. Call Start before submitting.
func NewValuationService(deps Dependencies, cfg Config) *ValuationService {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultRetryConfig()
	}
	if deps.Observations == nil {
		deps.Observations = storage.DiscardObservations{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.GetGlobalLogger()
	}
	if deps.Reports == nil {
		deps.Reports = service.NewReportBuilder(2, 0)
	}
	s := &ValuationService{
		store:        deps.Store,
		search:       deps.Search,
		gateway:      deps.Gateway,
		reports:      deps.Reports,
		observations: deps.Observations,
		logger:       deps.Logger,
		cfg:          cfg,
		now:          time.Now,
	}
	s.queue = NewQueue(cfg.Workers, s.Run)
	return s
}

// Start launches the worker pool and recovers jobs left over by a previous
// process: pending jobs are queued again, processing ones are failed since
// their worker is gone.
func (s *ValuationService) Start(ctx context.Context) error {
	// both lists are read before anything is queued so a requeued job that
	// starts quickly is not mistaken for an orphan
	pending, err := s.store.ListByStatus(ctx, types.JobPending, recoverLimit)
	if err != nil {
		return err
	}
	orphaned, err := s.store.ListByStatus(ctx, types.JobProcessing, recoverLimit)
	if err != nil {
		return err
	}
	for _, j := range orphaned {
		s.fail(ctx, j.ID, apperrors.NewInternalError("valuation interrupted by a restart", nil))
	}

	if err := s.queue.Start(ctx); err != nil {
		return err
	}
	// oldest first
	for i := len(pending) - 1; i >= 0; i-- {
		if err := s.queue.Enqueue(pending[i].ID); err != nil {
			return err
		}
	}
	if len(pending)+len(orphaned) > 0 {
		s.logger.WithFields(map[string]interface{}{
			"requeued": len(pending),
			"failed":   len(orphaned),
		}).Info("Recovered valuation jobs")
	}
	return nil
}

const recoverLimit = 1000

// Shutdown stops the pool, waiting for running jobs until ctx is done. Jobs
// that never started, and jobs interrupted by the deadline, end as failed.
func (s *ValuationService) Shutdown(ctx context.Context) {
	for _, id := range s.queue.Stop(ctx) {
		s.fail(context.Background(), id, apperrors.NewJobCancelledError(id))
	}
}

// Submit creates a pending job and queues it. It does not wait for the job.
func (s *ValuationService) Submit(ctx context.Context, input *SubmitInput) (*models.ValuationJob, error) {
	if input == nil {
		return nil, apperrors.NewInvalidParameterError("target", "is required")
	}
	job := models.NewValuationJob(uuid.NewString(), input.Target, input.UserRef, input.VehicleRef, s.now())

	err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context, attempt int) error {
		return s.store.Create(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(job.ID); err != nil {
		if errors.Is(err, ErrQueueStopped) {
			s.fail(ctx, job.ID, apperrors.NewServiceUnavailableError("valuation workers"))
			return nil, apperrors.NewServiceUnavailableError("valuation workers")
		}
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"job_id": job.ID,
		"brand":  job.Target.Brand,
		"model":  job.Target.Model,
		"year":   job.Target.Year,
	}).Info("Valuation job submitted")
	return job.Clone(), nil
}

// GetStatus returns the latest snapshot of a job
func (s *ValuationService) GetStatus(ctx context.Context, jobID string) (*models.ValuationJob, error) {
	return s.store.Get(ctx, jobID)
}

// Cancel stops a job. A queued job fails at once and is skipped when a worker
// reaches it; a running job stops at its next checkpoint. A terminal job
// yields an illegal-transition conflict.
func (s *ValuationService) Cancel(ctx context.Context, jobID string) (*models.ValuationJob, error) {
	job, err := s.store.Update(ctx, jobID, func(j *models.ValuationJob) error {
		if err := j.RequestCancel(); err != nil {
			return err
		}
		if j.Status == types.JobPending {
			return failJob(j, apperrors.NewJobCancelledError(j.ID), s.now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger := s.logger.WithFields(map[string]interface{}{"job_id": jobID, "status": job.Status})
	if job.Status == types.JobFailed {
		metrics.RecordJob(string(types.JobFailed), job.CreatedAt)
		logger.Info("Queued valuation cancelled")
		return job, nil
	}
	logger.Info("Valuation cancellation requested")
	return job, nil
}

// List returns recent jobs, optionally filtered by status
func (s *ValuationService) List(ctx context.Context, status types.JobStatus, limit int) ([]*models.ValuationJob, error) {
	return s.store.ListByStatus(ctx, status, limit)
}

// GetReport returns a completed job's report
func (s *ValuationService) GetReport(ctx context.Context, reportID string) (*models.ValuationReport, error) {
	return s.store.GetReport(ctx, reportID)
}

var _ ValuationJobs = (*ValuationService)(nil)
