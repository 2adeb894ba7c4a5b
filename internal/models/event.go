package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Event is an append-only history entry for a deployment. Events on the
// same deployment are totally ordered by (epoch_millis, epoch_seq): epoch
// is wall-clock milliseconds with a monotonic per-process counter as a
// tiebreaker appended to the sort key, per spec.md's ordering guarantee.
type Event struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	DeploymentID uuid.UUID `gorm:"type:uuid;not null;index" json:"deployment_id"`
	JobID        *uuid.UUID `gorm:"type:uuid;index" json:"job_id,omitempty"`

	EpochMillis int64 `gorm:"not null" json:"epoch_millis"`
	EpochSeq    int64 `gorm:"not null" json:"epoch_seq"`

	Kind    string         `gorm:"not null;index" json:"kind"`
	Payload datatypes.JSON `gorm:"type:jsonb" json:"payload"`

	// ErrorKind is set when this event records a failure, so the event log
	// alone reconstructs history per the error propagation policy.
	ErrorKind string `json:"error_kind,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SortKey renders the (epoch, tiebreaker) ordering key used for range
// queries against a deployment's event history.
func (e Event) SortKey() string {
	return fmt.Sprintf("%016d-%08d", e.EpochMillis, e.EpochSeq)
}
