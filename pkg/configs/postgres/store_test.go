package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd-cms/shepherd/pkg/configs"
)

var (
	testCreatedAt = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	testUpdatedAt = time.Date(2025, 3, 12, 14, 30, 0, 0, time.UTC)
	testSettings  = json.RawMessage(`{"timeout":30,"debug":false}`)
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

// addVersionRow appends one config_versions row in scan order.
func addVersionRow(rows *sqlmock.Rows, id int64, configID string, version int) *sqlmock.Rows {
	return rows.AddRow(
		id, configID, version, "billing-api", "production",
		[]byte(testSettings), testCreatedAt, testUpdatedAt, "deployer", "Configuration updated",
	)
}

func TestInsertInitial(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO config_versions").WithArgs(
		"billing-api-prod",
		1,
		"billing-api",
		"production",
		[]byte(testSettings),
		sqlmock.AnyArg(),
		sqlmock.AnyArg(),
		"deployer",
		"Initial configuration creation",
	).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	v, err := store.InsertInitial(context.Background(), configs.NewConfig{
		ConfigID:    "billing-api-prod",
		AppName:     "billing-api",
		Environment: "production",
		Settings:    testSettings,
		UpdatedBy:   "deployer",
		ChangeNotes: "Initial configuration creation",
	})
	require.NoError(t, err)
	assert.Equal(t, "7", v.SurrogateID)
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, v.CreatedAt, v.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertInitial_Duplicate(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO config_versions").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err := store.InsertInitial(context.Background(), configs.NewConfig{
		ConfigID:    "billing-api-prod",
		AppName:     "billing-api",
		Environment: "production",
		Settings:    testSettings,
	})
	assert.ErrorIs(t, err, configs.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertInitial_InfraError(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO config_versions").
		WillReturnError(errors.New("connection refused"))

	_, err := store.InsertInitial(context.Background(), configs.NewConfig{
		ConfigID:    "billing-api-prod",
		AppName:     "billing-api",
		Environment: "production",
		Settings:    testSettings,
	})
	assert.ErrorIs(t, err, configs.ErrUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendVersion(t *testing.T) {
	store, mock := newTestStore(t)

	latest := sqlmock.NewRows(versionColumns)
	addVersionRow(latest, 7, "billing-api-prod", 2)
	mock.ExpectQuery("SELECT .+ FROM config_versions").
		WithArgs("billing-api-prod").
		WillReturnRows(latest)

	newSettings := json.RawMessage(`{"timeout":60}`)
	mock.ExpectQuery("INSERT INTO config_versions").WithArgs(
		"billing-api-prod",
		3,
		"billing-api",
		"production",
		[]byte(newSettings),
		testCreatedAt,
		sqlmock.AnyArg(),
		"operator",
		"Raised timeout",
	).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))

	v, err := store.AppendVersion(context.Background(),
		"billing-api-prod", newSettings, "operator", "Raised timeout")
	require.NoError(t, err)
	assert.Equal(t, 3, v.Version)
	assert.Equal(t, "billing-api", v.AppName)
	assert.Equal(t, "production", v.Environment)
	assert.Equal(t, testCreatedAt, v.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendVersion_Conflict(t *testing.T) {
	store, mock := newTestStore(t)

	latest := sqlmock.NewRows(versionColumns)
	addVersionRow(latest, 7, "billing-api-prod", 2)
	mock.ExpectQuery("SELECT .+ FROM config_versions").
		WithArgs("billing-api-prod").
		WillReturnRows(latest)
	mock.ExpectQuery("INSERT INTO config_versions").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err := store.AppendVersion(context.Background(),
		"billing-api-prod", testSettings, "operator", "racing write")
	assert.ErrorIs(t, err, configs.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendVersion_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT .+ FROM config_versions").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(versionColumns))

	_, err := store.AppendVersion(context.Background(),
		"missing", testSettings, "", "")
	assert.ErrorIs(t, err, configs.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatest(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows(versionColumns)
	addVersionRow(rows, 7, "billing-api-prod", 4)
	mock.ExpectQuery("SELECT .+ FROM config_versions").
		WithArgs("billing-api-prod").
		WillReturnRows(rows)

	v, err := store.GetLatest(context.Background(), "billing-api-prod")
	require.NoError(t, err)
	assert.Equal(t, 4, v.Version)
	assert.Equal(t, "deployer", v.UpdatedBy)
	assert.JSONEq(t, string(testSettings), string(v.Settings))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetVersion_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT .+ FROM config_versions").
		WithArgs("billing-api-prod", 9).
		WillReturnRows(sqlmock.NewRows(versionColumns))

	_, err := store.GetVersion(context.Background(), "billing-api-prod", 9)
	assert.ErrorIs(t, err, configs.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows(versionColumns)
	addVersionRow(rows, 9, "billing-api-prod", 3)
	addVersionRow(rows, 8, "billing-api-prod", 2)
	addVersionRow(rows, 7, "billing-api-prod", 1)
	mock.ExpectQuery("SELECT .+ FROM config_versions").
		WithArgs("billing-api-prod").
		WillReturnRows(rows)

	versions, err := store.History(context.Background(), "billing-api-prod")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, 3, versions[0].Version)
	assert.Equal(t, 1, versions[2].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryLatest_Filters(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows(versionColumns)
	addVersionRow(rows, 7, "billing-api-prod", 2)
	mock.ExpectQuery("SELECT DISTINCT ON \\(config_id\\) .+ FROM config_versions").
		WithArgs("billing-api", "production").
		WillReturnRows(rows)

	versions, err := store.QueryLatest(context.Background(), configs.Filter{
		AppName:     "billing-api",
		Environment: "production",
	})
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "billing-api-prod", versions[0].ConfigID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryLatest_NoFilter(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT DISTINCT ON \\(config_id\\) .+ FROM config_versions").
		WillReturnRows(sqlmock.NewRows(versionColumns))

	versions, err := store.QueryLatest(context.Background(), configs.Filter{})
	require.NoError(t, err)
	assert.Empty(t, versions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAll(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("DELETE FROM config_versions").
		WithArgs("billing-api-prod").
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := store.DeleteAll(context.Background(), "billing-api-prod")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT config_id, COUNT\\(\\*\\), MAX\\(version\\)").
		WillReturnRows(sqlmock.NewRows([]string{"config_id", "count", "max"}).
			AddRow("billing-api-prod", 3, 3).
			AddRow("search-api-dev", 1, 1))

	mock.ExpectQuery("SELECT app_name, environment, COUNT\\(DISTINCT config_id\\)").
		WillReturnRows(sqlmock.NewRows([]string{"app_name", "environment", "count"}).
			AddRow("billing-api", "production", 1).
			AddRow("search-api", "development", 1))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats.Configs, 2)
	assert.Equal(t, 3, stats.Configs[0].Versions)
	assert.Equal(t, 3, stats.Configs[0].LatestVersion)
	require.Len(t, stats.AppEnvCounts, 2)
	assert.Equal(t, "billing-api", stats.AppEnvCounts[0].AppName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
