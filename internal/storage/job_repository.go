package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/types"
)

// JobRepository is the Postgres JobStore for valuation jobs and reports
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id::text, user_ref, vehicle_ref, brand, model, year, mileage, status, progress,
	status_message, error_code, error_message, error_detail, cancel_requested,
	created_at, started_at, finished_at, elapsed_ms, resource_usage, report_id::text`

// Create creates a new valuation job record
func (r *JobRepository) Create(ctx context.Context, job *models.ValuationJob) error {
	query := `
		INSERT INTO valuation_jobs (
			id, user_ref, vehicle_ref, brand, model, year, mileage, status, progress,
			status_message, cancel_requested, created_at, resource_usage
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.UserRef,
		job.VehicleRef,
		job.Target.Brand,
		job.Target.Model,
		job.Target.Year,
		job.Target.Mileage,
		string(job.Status),
		job.Progress,
		job.StatusMessage,
		job.CancelRequested,
		job.CreatedAt,
		job.ResourceUsage,
	)
	if err != nil {
		return apperrors.NewDatabaseError("create valuation job", err)
	}
	return nil
}

// Get retrieves a valuation job by ID
func (r *JobRepository) Get(ctx context.Context, id string) (*models.ValuationJob, error) {
	if !isUUID(id) {
		return nil, apperrors.NewJobNotFoundError(id)
	}
	row := r.db.Pool().QueryRow(ctx, `SELECT `+jobColumns+` FROM valuation_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewJobNotFoundError(id)
		}
		return nil, apperrors.NewDatabaseError("get valuation job", err)
	}
	return job, nil
}

// Update locks the job row, applies fn and writes the result back
func (r *JobRepository) Update(ctx context.Context, id string, fn JobMutation) (*models.ValuationJob, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("begin job update", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	job, err := lockJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	if err := saveJob(ctx, tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.NewDatabaseError("commit job update", err)
	}
	return job, nil
}

// Complete inserts the report and completes the job in one transaction
func (r *JobRepository) Complete(ctx context.Context, id string, report *models.ValuationReport, now time.Time) (*models.ValuationJob, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("begin job completion", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	job, err := lockJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := job.Complete(report.ID, now); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO valuation_reports (id, job_id, brand, model, year, target_price, insufficient_data, payload, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		report.ID,
		report.JobID,
		report.Target.Brand,
		report.Target.Model,
		report.Target.Year,
		report.TargetPrice,
		report.InsufficientData,
		payload,
		report.GeneratedAt,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("insert valuation report", err)
	}
	if err := saveJob(ctx, tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.NewDatabaseError("commit job completion", err)
	}
	return job, nil
}

// ListByStatus returns up to limit jobs, newest first. An empty status lists all jobs.
func (r *JobRepository) ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.ValuationJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + jobColumns + `
		FROM valuation_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id
		LIMIT $2
	`
	rows, err := r.db.Pool().Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list valuation jobs", err)
	}
	defer rows.Close()

	jobs := make([]*models.ValuationJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan valuation job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list valuation jobs", err)
	}
	return jobs, nil
}

// GetReport retrieves a stored report
func (r *JobRepository) GetReport(ctx context.Context, id string) (*models.ValuationReport, error) {
	if !isUUID(id) {
		return nil, apperrors.NewNotFoundError("report", id)
	}
	var payload []byte
	err := r.db.Pool().QueryRow(ctx, `SELECT payload FROM valuation_reports WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("report", id)
		}
		return nil, apperrors.NewDatabaseError("get valuation report", err)
	}
	var report models.ValuationReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

func lockJob(ctx context.Context, tx pgx.Tx, id string) (*models.ValuationJob, error) {
	if !isUUID(id) {
		return nil, apperrors.NewJobNotFoundError(id)
	}
	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM valuation_jobs WHERE id = $1 FOR UPDATE`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewJobNotFoundError(id)
		}
		return nil, apperrors.NewDatabaseError("lock valuation job", err)
	}
	return job, nil
}

func saveJob(ctx context.Context, tx pgx.Tx, job *models.ValuationJob) error {
	query := `
		UPDATE valuation_jobs
		SET status = $2, progress = $3, status_message = $4, error_code = $5,
			error_message = $6, error_detail = $7, cancel_requested = $8,
			started_at = $9, finished_at = $10, elapsed_ms = $11,
			resource_usage = $12, report_id = $13
		WHERE id = $1
	`
	result, err := tx.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.Progress,
		job.StatusMessage,
		job.ErrorCode,
		job.ErrorMessage,
		job.ErrorDetail,
		job.CancelRequested,
		job.StartedAt,
		job.FinishedAt,
		job.ElapsedMs,
		job.ResourceUsage,
		job.ReportID,
	)
	if err != nil {
		return apperrors.NewDatabaseError("update valuation job", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewJobNotFoundError(job.ID)
	}
	return nil
}

func scanJob(row pgx.Row) (*models.ValuationJob, error) {
	var job models.ValuationJob
	var status string
	err := row.Scan(
		&job.ID,
		&job.UserRef,
		&job.VehicleRef,
		&job.Target.Brand,
		&job.Target.Model,
		&job.Target.Year,
		&job.Target.Mileage,
		&status,
		&job.Progress,
		&job.StatusMessage,
		&job.ErrorCode,
		&job.ErrorMessage,
		&job.ErrorDetail,
		&job.CancelRequested,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
		&job.ElapsedMs,
		&job.ResourceUsage,
		&job.ReportID,
	)
	if err != nil {
		return nil, err
	}
	job.Status = types.JobStatus(status)
	return &job, nil
}

var _ JobStore = (*JobRepository)(nil)

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
