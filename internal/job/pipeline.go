package job

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/logging"
	"github.com/vehicle-valuation/internal/metrics"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/retry"
	"github.com/vehicle-valuation/internal/service"
	"github.com/vehicle-valuation/internal/types"
)

// Stage progress values reported to pollers
const (
	progressSearched   = 40
	progressNormalized = 70
	progressPersisted  = 90
)

// finalizeTimeout bounds the terminal write of a job whose context is gone
const finalizeTimeout = 10 * time.Second

// errJobFinished aborts a store mutation on a job that is already terminal
var errJobFinished = errors.New("job already finished")

// Run executes one job through Search, Normalize, Persist and Report. Every
// outcome, including cancellation, ends in a terminal state.
func (s *ValuationService) Run(ctx context.Context, jobID string) {
	began := time.Now()
	logger := s.logger.WithField("job_id", jobID)
	ctx = logging.WithLogger(ctx, logger)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	job, err := s.store.Update(ctx, jobID, func(j *models.ValuationJob) error {
		if j.Status.IsTerminal() {
			return errJobFinished
		}
		if j.CancelRequested {
			return failJob(j, apperrors.NewJobCancelledError(j.ID), s.now())
		}
		return j.Start(s.now())
	})
	switch {
	case errors.Is(err, errJobFinished):
		logger.Info("Valuation job already finished; skipped")
		return
	case err != nil:
		logger.WithError(err).Error("Valuation job could not start")
		return
	case job.Status.IsTerminal():
		logger.Info("Valuation job cancelled before it started")
		return
	}

	report, err := s.execute(ctx, job)
	if err == nil {
		err = s.complete(ctx, jobID, report)
	}
	if err != nil {
		s.fail(ctx, jobID, err)
		metrics.RecordJob(string(types.JobFailed), began)
		return
	}
	metrics.RecordJob(string(types.JobCompleted), began)
	logger.WithFields(map[string]interface{}{
		"comparables":  len(report.Comparables),
		"insufficient": report.InsufficientData,
		"elapsed_ms":   time.Since(began).Milliseconds(),
	}).Info("Valuation job completed")
}

func (s *ValuationService) execute(ctx context.Context, job *models.ValuationJob) (*models.ValuationReport, error) {
	logger := logging.FromContext(ctx)
	target := job.Target

	if err := s.cfg.Plausibility.ValidateTarget(target, s.now()); err != nil {
		return nil, err
	}

	logger.WithField("stage", "search").Debug("Searching comparables")
	outcome, err := s.search.Search(ctx, target, s.cfg.MaxResults)
	if err != nil {
		return nil, s.interrupted(ctx, job.ID, err)
	}
	if outcome.Exhausted() {
		return nil, apperrors.NewProviderExhaustedError(outcome.QueriesIssued, outcome.LastError)
	}
	if err := s.checkpoint(ctx, job.ID, progressSearched, models.MessageNormalizing, outcome.QueriesIssued); err != nil {
		return nil, err
	}

	logger.WithField("stage", "normalize").Debug("Applying business rules")
	comps, discarded := service.NormalizeComparables(outcome.Comparables, s.cfg.Plausibility, s.now())
	if err := s.checkpoint(ctx, job.ID, progressNormalized, models.MessageNormalized, 0); err != nil {
		return nil, err
	}

	logger.WithField("stage", "persist").Debug("Persisting market data")
	stats := s.gateway.PersistComparables(ctx, comps, s.now())
	s.recordObservations(ctx, job.ID, comps)
	if err := s.checkpoint(ctx, job.ID, progressPersisted, models.MessagePersisted, 0); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"stage":          "report",
		"queries":        outcome.QueriesIssued,
		"failed_queries": outcome.QueriesFailed,
		"discarded":      discarded,
		"inserted":       stats.Inserted,
		"duplicates":     stats.Duplicates,
		"not_saved":      stats.Failed,
	}).Debug("Building report")
	return s.reports.Build(job.ID, target, comps, stats, s.now()), nil
}

// checkpoint advances progress unless cancellation was requested meanwhile.
// The cancel flag is read inside the same store mutation that advances.
func (s *ValuationService) checkpoint(ctx context.Context, jobID string, progress int, message string, usage int) error {
	if err := ctx.Err(); err != nil {
		return s.interrupted(ctx, jobID, err)
	}
	_, err := s.store.Update(ctx, jobID, func(j *models.ValuationJob) error {
		if j.CancelRequested {
			return apperrors.NewJobCancelledError(j.ID)
		}
		j.AddUsage(usage)
		return j.Advance(progress, message)
	})
	return err
}

// interrupted maps a context failure to the job's terminal error
func (s *ValuationService) interrupted(ctx context.Context, jobID string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return apperrors.NewJobCancelledError(jobID)
	}
	return err
}

func (s *ValuationService) complete(ctx context.Context, jobID string, report *models.ValuationReport) error {
	return retry.Do(ctx, s.cfg.Retry, func(ctx context.Context, attempt int) error {
		job, err := s.store.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if job.CancelRequested {
			return apperrors.NewJobCancelledError(jobID)
		}
		_, err = s.store.Complete(ctx, jobID, report, s.now())
		return err
	})
}

// fail records cause on the job. A job that already finished is left as is.
func (s *ValuationService) fail(ctx context.Context, jobID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	logger := s.logger.WithField("job_id", jobID).WithError(cause)

	_, err := s.store.Update(ctx, jobID, func(j *models.ValuationJob) error {
		if j.Status.IsTerminal() {
			return errJobFinished
		}
		return failJob(j, cause, s.now())
	})
	if errors.Is(err, errJobFinished) {
		return
	}
	if err != nil {
		logger.WithField("store_error", err.Error()).Error("Failed to record valuation failure")
		return
	}
	logger.WithField("code", apperrors.Categorize(cause).Code).Warn("Valuation job failed")
}

// failJob walks j to failed inside a store mutation, starting it first when
// it is still pending
func failJob(j *models.ValuationJob, cause error, now time.Time) error {
	if j.Status == types.JobPending {
		if err := j.Start(now); err != nil {
			return err
		}
	}
	catErr := apperrors.Categorize(cause)
	return j.Fail(catErr.Code, catErr.Message, cause.Error(), now)
}

// recordObservations appends the job's comparables to the analytics sink,
// best-effort
func (s *ValuationService) recordObservations(ctx context.Context, jobID string, comps []models.Comparable) {
	if len(comps) == 0 {
		return
	}
	seen := s.now().UTC()
	obs := make([]models.Observation, len(comps))
	for i, c := range comps {
		obs[i] = models.Observation{JobID: jobID, ObservedAt: seen, Comparable: c}
	}
	if err := s.observations.AppendObservations(ctx, obs); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Comparable observations not recorded")
	}
}
