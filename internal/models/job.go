package models

import (
	"time"

	"github.com/google/uuid"
)

// JobKind is the event kind driving one orchestrator run.
type JobKind string

const (
	JobKindPlan    JobKind = "plan"
	JobKindApply   JobKind = "apply"
	JobKindDestroy JobKind = "destroy"
	JobKindDrift   JobKind = "drift"
)

// JobStatus is the orchestrator state machine's current phase for a job.
type JobStatus string

const (
	JobStatusInit          JobStatus = "init"
	JobStatusCompiling     JobStatus = "compiling"
	JobStatusLocking       JobStatus = "locking"
	JobStatusLaunching     JobStatus = "launching"
	JobStatusRunning       JobStatus = "running"
	JobStatusFinalizing    JobStatus = "finalizing"
	JobStatusSucceeded     JobStatus = "succeeded"
	JobStatusFailed        JobStatus = "failed"
	JobStatusCancelled     JobStatus = "cancelled"
	JobStatusCancelRequested JobStatus = "cancel_requested"
)

// IsTerminal reports whether s is one of the three terminal states.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is one orchestrator-driven execution of plan/apply/destroy/drift for
// a deployment. A deployment has at most one non-terminal job at any time.
type Job struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	DeploymentID uuid.UUID `gorm:"type:uuid;not null;index" json:"deployment_id"`

	Kind   JobKind   `gorm:"type:varchar(16);not null" json:"kind"`
	Status JobStatus `gorm:"type:varchar(24);not null;index" json:"status"`

	RunnerHandle   string `json:"runner_handle,omitempty"`
	LogStreamCursor string `json:"log_stream_cursor,omitempty"`
	ChangeRecordID *uuid.UUID `gorm:"type:uuid" json:"change_record_id,omitempty"`

	FailureKind    string `json:"failure_kind,omitempty"`
	FailureMessage string `gorm:"type:text" json:"failure_message,omitempty"`

	StartedAtEpoch int64  `json:"started_at_epoch"`
	EndedAtEpoch   int64  `json:"ended_at_epoch,omitempty"`

	AttemptsByPhase map[string]int `gorm:"serializer:json" json:"attempts_by_phase,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaxAttempts returns the per-phase retry budget from spec.md §4.4:
// compile 1, lock until timeout (handled separately), launch 3, finalize 5.
func MaxAttempts(phase JobStatus) int {
	switch phase {
	case JobStatusCompiling:
		return 1
	case JobStatusLaunching:
		return 3
	case JobStatusFinalizing:
		return 5
	default:
		return 1
	}
}
