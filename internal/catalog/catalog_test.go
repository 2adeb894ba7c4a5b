package catalog

import (
	"context"
	"regexp"
	"testing"

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

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	return db, mock
}

// fakeObject is a minimal in-memory facade.Object, standing in for the
// façade artifact store the same way the teacher's tests fake out its
// repository/service dependencies rather than hitting real infrastructure.
type fakeObject struct {
	puts map[string][]byte
}

func newFakeObject() *fakeObject { return &fakeObject{puts: map[string][]byte{}} }

func (f *fakeObject) Put(ctx context.Context, key string, data []byte) error {
	f.puts[key] = data
	return nil
}
func (f *fakeObject) Get(ctx context.Context, key string) ([]byte, error) { return f.puts[key], nil }
func (f *fakeObject) PresignedURL(ctx context.Context, key string, ttlSeconds int) (string, error) {
	return "https://example.test/" + key, nil
}

func moduleManifest(name, version string) models.ModuleManifest {
	var m models.ModuleManifest
	m.APIVersion = "infraweave.io/v1"
	m.Kind = "Module"
	m.Metadata.Name = name
	m.Spec.Version = version
	m.Spec.ModuleName = "aws-" + name
	m.Spec.Reference = "https://example.test/" + name
	return m
}

func TestPublishProviderRejectsMissingAPIVersion(t *testing.T) {
	s := New(nil, newFakeObject(), false)
	m := moduleManifest("aws", "1.0.0")
	m.APIVersion = ""

	_, err := s.PublishProvider(context.Background(), PublishInput{
		Track:    models.TrackDev,
		Manifest: m,
	})
	require.True(t, appErr.IsKind(err, appErr.KindMalformed))
}

func TestPublishRejectsRepublishOfExistingStableVersion(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, newFakeObject(), true)

	m := moduleManifest("vpc", "1.0.0")
	entryPK := catalogPK(models.ModuleTypeModule, models.TrackStable, "vpc")

	mock.ExpectBegin()
	cols := []string{"id", "pk", "sk", "type", "track", "name", "version", "module_name"}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "catalog_entries" WHERE pk = $1 AND sk = $2`)).
		WithArgs(entryPK, "1.0.0").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(uuid.New(), entryPK, "1.0.0", models.ModuleTypeModule, models.TrackStable, "vpc", "1.0.0", "aws-vpc"))
	mock.ExpectRollback()

	_, err := s.PublishModule(context.Background(), PublishInput{
		Track:    models.TrackStable,
		Manifest: m,
	})
	require.True(t, appErr.IsKind(err, appErr.KindAlreadyExists))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishModuleFirstPublishBecomesLatest(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, newFakeObject(), false)

	m := moduleManifest("vpc", "1.0.0")
	entryPK := catalogPK(models.ModuleTypeModule, models.TrackDev, "vpc")
	entryID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "catalog_entries" WHERE pk = $1 AND sk = $2`)).
		WithArgs(entryPK, "1.0.0").
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectQuery(`INSERT INTO "catalog_entries"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(entryID))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "version" FROM "catalog_entries" WHERE type = $1 AND track = $2 AND name = $3 AND deprecated = false`)).
		WithArgs(models.ModuleTypeModule, models.TrackDev, "vpc").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "latest_pointers" WHERE pk = $1`)).
		WithArgs("LATEST#module#dev#vpc").
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectQuery(`INSERT INTO "latest_pointers"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectExec(`UPDATE "catalog_entries" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := s.PublishModule(context.Background(), PublishInput{
		Track:    models.TrackDev,
		Manifest: m,
	})
	require.NoError(t, err)
	require.True(t, entry.IsLatest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeprecateRepointsLatestToNextHighestNonDeprecatedVersion(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db, newFakeObject(), false)

	nextID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "catalog_entries" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "latest_pointers" WHERE pk = $1`)).
		WithArgs("LATEST#module#stable#vpc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "pk", "entry_id", "version"}).
			AddRow(uuid.New(), "LATEST#module#stable#vpc", uuid.New(), "1.1.0"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "version" FROM "catalog_entries" WHERE type = $1 AND track = $2 AND name = $3 AND deprecated = false`)).
		WithArgs(models.ModuleTypeModule, models.TrackStable, "vpc").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("1.0.0"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "catalog_entries" WHERE type = $1 AND track = $2 AND name = $3 AND version = $4`)).
		WithArgs(models.ModuleTypeModule, models.TrackStable, "vpc", "1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "track", "name", "version"}).
			AddRow(nextID, models.ModuleTypeModule, models.TrackStable, "vpc", "1.0.0"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "latest_pointers" WHERE pk = $1`)).
		WithArgs("LATEST#module#stable#vpc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "pk", "entry_id", "version"}).
			AddRow(uuid.New(), "LATEST#module#stable#vpc", uuid.New(), "1.1.0"))
	mock.ExpectExec(`UPDATE "latest_pointers" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "catalog_entries" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "catalog_entries" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Deprecate(context.Background(), models.ModuleTypeModule, models.TrackStable, "vpc", "1.1.0")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
