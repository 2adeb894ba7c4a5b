package registry

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/infraweave-io/infraweave/internal/models"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return db, mock
}

func TestGetReturnsNotFoundWhenNoRow(t *testing.T) {
	db, mock := newMockDB(t)
	r := New(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "deployments"`)).
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := r.Get(context.Background(), identityFixture())
	require.True(t, appErr.IsKind(err, appErr.KindNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByProjectRegionScopesQuery(t *testing.T) {
	db, mock := newMockDB(t)
	r := New(db)

	cols := []string{"id", "pk", "sk", "project", "region", "namespace", "name", "deleted", "created_at", "updated_at"}
	rows := sqlmock.NewRows(cols).
		AddRow(uuid.New(), "DEPLOYMENT#p1#us-east-1", "default#demo", "p1", "us-east-1", "default", "demo", false, time.Now(), time.Now())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "deployments" WHERE project = $1 AND region = $2 AND deleted = false`)).
		WithArgs("p1", "us-east-1").
		WillReturnRows(rows)

	out, err := r.ListByProjectRegion(context.Background(), "p1", "us-east-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "demo", out[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadOutputsDecodesEmptyBlobAsEmptyMap(t *testing.T) {
	db, mock := newMockDB(t)
	r := New(db)

	cols := []string{"id", "pk", "sk", "project", "region", "namespace", "name", "outputs", "deleted"}
	rows := sqlmock.NewRows(cols).
		AddRow(uuid.New(), "DEPLOYMENT#p1#us-east-1", "default#demo", "p1", "us-east-1", "default", "demo", nil, false)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "deployments"`)).
		WillReturnRows(rows)

	out, err := r.ReadOutputs(context.Background(), identityFixture())
	require.NoError(t, err)
	require.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobReturnsNotFoundWhenNoRow(t *testing.T) {
	db, mock := newMockDB(t)
	r := New(db)

	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "jobs" WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := r.GetJob(context.Background(), id)
	require.True(t, appErr.IsKind(err, appErr.KindNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChangeRecordReturnsRow(t *testing.T) {
	db, mock := newMockDB(t)
	r := New(db)

	id := uuid.New()
	cols := []string{"id", "deployment_id", "job_id", "plan_digest", "created_at"}
	rows := sqlmock.NewRows(cols).AddRow(id, uuid.New(), uuid.New(), "digest123", time.Now())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "change_records" WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(rows)

	got, err := r.GetChangeRecord(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "digest123", got.PlanDigest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEventsClampsLimitToDefault(t *testing.T) {
	db, mock := newMockDB(t)
	r := New(db)

	deploymentID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "events" WHERE deployment_id = $1 ORDER BY epoch_millis DESC, epoch_seq DESC LIMIT $2`)).
		WithArgs(deploymentID, 100).
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := r.ListEvents(context.Background(), deploymentID, 0)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOutputsByKindAndNameReturnsFalseWhenNoMatch(t *testing.T) {
	db, mock := newMockDB(t)
	r := New(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "deployments" WHERE module_type = $1 AND name = $2 AND deleted = false`)).
		WithArgs(models.ModuleTypeModule, "demo").
		WillReturnRows(sqlmock.NewRows(nil))

	out, found, err := r.FindOutputsByKindAndName(context.Background(), "Module", "demo")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func identityFixture() models.DeploymentIdentity {
	return models.DeploymentIdentity{Project: "p1", Region: "us-east-1", Namespace: "default", Name: "demo"}
}
