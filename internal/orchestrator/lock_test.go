package orchestrator

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	appErr "github.com/infraweave-io/infraweave/pkg/errors"
)

func newLockMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestAcquireLockSucceedsWhenNoExistingLock(t *testing.T) {
	db, mock := newLockMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "locks" WHERE state_key = $1`)).
		WithArgs("prod/us-east-1/demo/terraform.tfstate").
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec(`INSERT INTO "locks"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := AcquireLock(context.Background(), db, "prod/us-east-1/demo/terraform.tfstate", "job-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestAcquireLockTwoRacingCreatesExactlyOneObservesBusy simulates two
// callers that both read ErrRecordNotFound before either has inserted —
// the true-simultaneous race lock.go's duplicate-key handling exists
// for. Exactly one of the two concurrent AcquireLock calls must succeed;
// the other must resolve to KindBusy instead of surfacing the raw
// unique-constraint error.
func TestAcquireLockTwoRacingCreatesExactlyOneObservesBusy(t *testing.T) {
	db, mock := newLockMockDB(t)
	mock.MatchExpectationsInOrder(false)

	stateKey := "prod/us-east-1/demo/terraform.tfstate"

	mock.ExpectBegin()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "locks" WHERE state_key = $1`)).
		WithArgs(stateKey).
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "locks" WHERE state_key = $1`)).
		WithArgs(stateKey).
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec(`INSERT INTO "locks"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "locks"`).
		WillReturnError(gorm.ErrDuplicatedKey)
	mock.ExpectCommit()
	mock.ExpectRollback()

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		owner := "job-a"
		if i == 1 {
			owner = "job-b"
		}
		go func(owner string) {
			defer wg.Done()
			// A short lockTimeout means the loser's first backoff retry
			// would exceed the budget, so it gives up after exactly one
			// attempt instead of spinning until the shared mock runs dry.
			results <- AcquireLock(context.Background(), db, stateKey, owner, 50*time.Millisecond)
		}(owner)
	}
	wg.Wait()
	close(results)

	var successes, busyErrors int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case appErr.IsKind(err, appErr.KindBusy):
			busyErrors++
		default:
			t.Fatalf("unexpected error kind: %v", err)
		}
	}

	require.Equal(t, 1, successes, "expected exactly one caller to acquire the lock")
	require.Equal(t, 1, busyErrors, "expected exactly one caller to observe Busy")
	require.NoError(t, mock.ExpectationsWereMet())
}
