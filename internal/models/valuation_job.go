package models

import (
	"time"

	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/types"
)

// ValuationJob is one asynchronous valuation and its pollable state.
// All mutation goes through the transition methods below so that status
// only moves forward and progress never decreases.
type ValuationJob struct {
	ID              string          `json:"id" db:"id"`
	UserRef         string          `json:"user_ref,omitempty" db:"user_ref"`
	VehicleRef      string          `json:"vehicle_ref,omitempty" db:"vehicle_ref"`
	Target          TargetVehicle   `json:"target" db:"target"`
	Status          types.JobStatus `json:"status" db:"status"`
	Progress        int             `json:"progress" db:"progress"`
	StatusMessage   string          `json:"status_message" db:"status_message"`
	ErrorCode       *string         `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage    *string         `json:"error_message,omitempty" db:"error_message"`
	ErrorDetail     *string         `json:"error_detail,omitempty" db:"error_detail"`
	CancelRequested bool            `json:"cancel_requested" db:"cancel_requested"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty" db:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	ElapsedMs       *int64          `json:"elapsed_ms,omitempty" db:"elapsed_ms"`
	ResourceUsage   int             `json:"resource_usage" db:"resource_usage"`
	ReportID        *string         `json:"report_id,omitempty" db:"report_id"`
}

// Status messages shown to the host while a job runs
const (
	MessageQueued      = "Valuation queued"
	MessageSearching   = "Searching comparable listings"
	MessageNormalizing = "Normalizing comparables"
	MessageNormalized  = "Comparables normalized"
	MessagePersisted   = "Market data updated"
	MessageCompleted   = "Valuation completed"
)

// NewValuationJob creates a job in pending state
func NewValuationJob(id string, target TargetVehicle, userRef, vehicleRef string, now time.Time) *ValuationJob {
	return &ValuationJob{
		ID:            id,
		UserRef:       userRef,
		VehicleRef:    vehicleRef,
		Target:        target,
		Status:        types.JobPending,
		StatusMessage: MessageQueued,
		CreatedAt:     now.UTC(),
	}
}

func (j *ValuationJob) transition(to types.JobStatus) error {
	if !j.Status.CanTransitionTo(to) {
		return apperrors.NewIllegalTransitionError(j.ID, j.Status, to)
	}
	j.Status = to
	return nil
}

// Start moves a pending job to processing with progress 0
func (j *ValuationJob) Start(now time.Time) error {
	if err := j.transition(types.JobProcessing); err != nil {
		return err
	}
	t := now.UTC()
	j.StartedAt = &t
	j.Progress = 0
	j.StatusMessage = MessageSearching
	return nil
}

// Advance records stage progress. Lower values than the current progress are
// ignored; 100 is reserved for Complete.
func (j *ValuationJob) Advance(progress int, message string) error {
	if j.Status != types.JobProcessing {
		return apperrors.NewIllegalTransitionError(j.ID, j.Status, types.JobProcessing)
	}
	if progress > 99 {
		progress = 99
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	if message != "" {
		j.StatusMessage = message
	}
	return nil
}

// Complete finishes the job and attaches its report
func (j *ValuationJob) Complete(reportID string, now time.Time) error {
	if reportID == "" {
		return apperrors.NewInternalError("completed job requires a report", nil)
	}
	if err := j.transition(types.JobCompleted); err != nil {
		return err
	}
	j.Progress = 100
	j.StatusMessage = MessageCompleted
	j.ReportID = &reportID
	j.finish(now)
	return nil
}

// Fail terminates the job with a user-facing message and a technical detail.
// Progress stays where the job stopped.
func (j *ValuationJob) Fail(code, message, detail string, now time.Time) error {
	if err := j.transition(types.JobFailed); err != nil {
		return err
	}
	j.ErrorCode = &code
	j.ErrorMessage = &message
	j.ErrorDetail = &detail
	j.StatusMessage = message
	j.finish(now)
	return nil
}

func (j *ValuationJob) finish(now time.Time) {
	t := now.UTC()
	j.FinishedAt = &t
	if j.StartedAt != nil {
		ms := t.Sub(*j.StartedAt).Milliseconds()
		j.ElapsedMs = &ms
	}
}

// AddUsage increments the resource-usage counter
func (j *ValuationJob) AddUsage(n int) {
	if n > 0 {
		j.ResourceUsage += n
	}
}

// RequestCancel flags a non-terminal job for cooperative cancellation
func (j *ValuationJob) RequestCancel() error {
	if j.Status.IsTerminal() {
		return apperrors.NewIllegalTransitionError(j.ID, j.Status, types.JobFailed)
	}
	j.CancelRequested = true
	return nil
}

// Clone returns a deep copy safe to hand to readers
func (j *ValuationJob) Clone() *ValuationJob {
	c := *j
	if j.Target.Mileage != nil {
		c.Target.Mileage = IntPtr(*j.Target.Mileage)
	}
	c.ErrorCode = cloneString(j.ErrorCode)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	c.ErrorDetail = cloneString(j.ErrorDetail)
	c.ReportID = cloneString(j.ReportID)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.ElapsedMs != nil {
		ms := *j.ElapsedMs
		c.ElapsedMs = &ms
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
