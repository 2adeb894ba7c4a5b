package models

import (
	"time"

	"gorm.io/datatypes"
)

// FacadeItem backs the postgres-implemented KV capability described in the
// cloud-capability façade: a generic partition/sort-key item with a
// version column used for conditional_update's compare-and-swap and
// transact_write's all-or-nothing multi-row commit.
type FacadeItem struct {
	PK      string         `gorm:"column:pk;primaryKey" json:"pk"`
	SK      string         `gorm:"column:sk;primaryKey" json:"sk"`
	Attrs   datatypes.JSON `gorm:"type:jsonb" json:"attrs"`
	Version int64          `gorm:"not null;default:0" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FacadeLogEntry backs the postgres-implemented Logs capability: one line
// of a job's streamed output, queryable by an opaque cursor (its own
// monotonic id).
type FacadeLogEntry struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	JobHandle string    `gorm:"not null;index" json:"job_handle"`
	Line      string    `gorm:"type:text" json:"line"`
	CreatedAt time.Time `json:"created_at"`
}
