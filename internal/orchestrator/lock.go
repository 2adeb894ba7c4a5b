package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/infraweave-io/infraweave/internal/models"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"gorm.io/gorm"
)

// leaseTTL bounds how long a lock is held before it becomes reclaimable
// by another job, once its owner is confirmed lost (spec.md §4.4's
// RunnerLost failure semantics).
const leaseTTL = 30 * time.Minute

// StateKey renders the Terraform backend state key spec.md §4.4
// describes: <environment>/<region>/<deployment_id>/terraform.tfstate.
func StateKey(environment, region, deploymentID string) string {
	return environment + "/" + region + "/" + deploymentID + "/terraform.tfstate"
}

// AcquireLock writes a Lock row for stateKey, polling with jittered
// exponential backoff up to lockTimeout on conflict, per the
// Compiling → Locking transition. Returns Busy if lockTimeout elapses
// without acquiring, reclaiming an expired lease from a lost runner
// along the way.
func AcquireLock(ctx context.Context, db *gorm.DB, stateKey, ownerJobID string, lockTimeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = lockTimeout

	operation := func() error {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing models.Lock
			err := tx.Where("state_key = ?", stateKey).First(&existing).Error
			switch {
			case err == gorm.ErrRecordNotFound:
				createErr := tx.Create(&models.Lock{
					StateKey:   stateKey,
					OwnerJobID: ownerJobID,
					AcquiredAt: time.Now(),
					LeaseUntil: time.Now().Add(leaseTTL),
				}).Error
				if errors.Is(createErr, gorm.ErrDuplicatedKey) {
					// Two callers both read ErrRecordNotFound before either
					// inserted; the loser's Create hits the state_key unique
					// index. Report it the same as an already-held lock so
					// the backoff loop retries instead of surfacing a raw
					// constraint error.
					return appErr.New(appErr.KindBusy, "lock held by another job")
				}
				return createErr
			case err != nil:
				return err
			case existing.Expired(time.Now()):
				existing.OwnerJobID = ownerJobID
				existing.AcquiredAt = time.Now()
				existing.LeaseUntil = time.Now().Add(leaseTTL)
				return tx.Save(&existing).Error
			default:
				return appErr.New(appErr.KindBusy, "lock held by another job")
			}
		})
		if appErr.IsKind(err, appErr.KindBusy) {
			return err // retryable by the backoff loop
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if appErr.IsKind(err, appErr.KindBusy) {
			return appErr.Newf(appErr.KindBusy, "timed out acquiring lock on %s after %s", stateKey, lockTimeout)
		}
		return err
	}
	return nil
}

// ReleaseLock deletes the Lock row inside the caller's finalize
// transaction, per the Finalizing step's transactional write.
func ReleaseLock(tx *gorm.DB, stateKey string) error {
	if err := tx.Where("state_key = ?", stateKey).Delete(&models.Lock{}).Error; err != nil {
		return appErr.Wrap(err, appErr.KindInternal, "releasing lock")
	}
	return nil
}
