// Package types holds the small shared vocabularies of the valuation engine.
package types

import "fmt"

// JobStatus is the lifecycle state of a valuation job
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// allowed lists every legal edge of the job state machine
var allowed = map[JobStatus][]JobStatus{
	JobPending:    {JobProcessing},
	JobProcessing: {JobCompleted, JobFailed},
}

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// IsValid reports whether s is one of the four known states
func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal edge
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, candidate := range allowed[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseJobStatus validates a status string coming from storage or a query parameter
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown job status %q", s)
	}
	return status, nil
}

// Condition is the canonical vehicle condition label
type Condition string

const (
	ConditionUnknown Condition = ""
	ConditionNew     Condition = "New"
	ConditionUsed    Condition = "Used"
)

// DataType labels where a market record came from
type DataType string

const (
	DataTypeComparableSearch DataType = "comparable search"
	DataTypeManualExtraction DataType = "manual extraction"
	DataTypeUserPurchase     DataType = "user purchase"
	DataTypeAIValuation      DataType = "AI valuation"
)

// SourceOther labels listings from sites outside the marketplace table
const SourceOther = "Other"

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
