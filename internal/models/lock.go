package models

import "time"

// Lock is a mutual-exclusion lease on a Terraform state key. Exactly one
// owner per StateKey; acquired with a conditional insert, released by
// delete inside the finalize transaction, and reclaimable once its lease
// TTL elapses after a lost runner.
type Lock struct {
	StateKey   string    `gorm:"column:state_key;primaryKey" json:"state_key"`
	OwnerJobID string    `gorm:"not null" json:"owner_job_id"`
	AcquiredAt time.Time `gorm:"not null" json:"acquired_at"`
	LeaseUntil time.Time `gorm:"not null;index" json:"lease_until"`
}

// Expired reports whether the lease has elapsed as of now, making the
// lock reclaimable by a fresh acquisition attempt.
func (l Lock) Expired(now time.Time) bool {
	return now.After(l.LeaseUntil)
}
