package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ChangeRecord is an immutable record of the diff a job produced,
// referenced by Job.ChangeRecordID once finalize commits.
type ChangeRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	DeploymentID uuid.UUID `gorm:"type:uuid;not null;index" json:"deployment_id"`
	JobID        uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`

	PlanDigest string         `gorm:"not null" json:"plan_digest"`
	Before     datatypes.JSON `gorm:"type:jsonb" json:"before"`
	After      datatypes.JSON `gorm:"type:jsonb" json:"after"`

	CreatedAt time.Time `json:"created_at"`
}
