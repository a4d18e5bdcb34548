package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, &PostgresStore{pool: mock}
}

func TestPostgresStore_Migrate(t *testing.T) {
	mock, s := newMockPostgresStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scrape_runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRun(t *testing.T) {
	mock, s := newMockPostgresStore(t)
	stats := testStats("run-1", testStart)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scrape_runs").
		WithArgs("run-1", "Austin, TX", "MASSAGE", testStart, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"run_providers"}, []string{"run_id", "position", "record"}).
		WillReturnResult(2)
	mock.ExpectExec("CREATE TEMP TABLE _stage_providers").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_providers"}, providerColumns).WillReturnResult(2)
	mock.ExpectExec(`(?s)INSERT INTO providers .* ON CONFLICT \(identity_key\) DO UPDATE SET .* WHERE providers.updated_at <= EXCLUDED.updated_at`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, s.SaveRun(context.Background(), stats, testRecords()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRunEmpty(t *testing.T) {
	mock, s := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scrape_runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	stats := testStats("", testStart)
	require.NoError(t, s.SaveRun(context.Background(), stats, nil))
	assert.NotEmpty(t, stats.RunID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRunRollsBack(t *testing.T) {
	mock, s := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scrape_runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"run_providers"}, []string{"run_id", "position", "record"}).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.SaveRun(context.Background(), testStats("run-2", testStart), testRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRunUpsertFailureDiscardsRun(t *testing.T) {
	mock, s := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scrape_runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"run_providers"}, []string{"run_id", "position", "record"}).
		WillReturnResult(2)
	mock.ExpectExec("CREATE TEMP TABLE _stage_providers").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_providers"}, providerColumns).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO providers").WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := s.SaveRun(context.Background(), testStats("run-3", testStart), testRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert providers for run run-3")
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProviders_EmptyRows(t *testing.T) {
	n, err := upsertProviders(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPostgresStore_LatestRun(t *testing.T) {
	mock, s := newMockPostgresStore(t)
	data, err := json.Marshal(testStats("run-9", testStart))
	require.NoError(t, err)

	mock.ExpectQuery("SELECT stats FROM scrape_runs ORDER BY started_at DESC").
		WillReturnRows(pgxmock.NewRows([]string{"stats"}).AddRow(data))

	got, err := s.LatestRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-9", got.RunID)
	assert.Equal(t, 2, got.New)
}

func TestPostgresStore_LatestRunNone(t *testing.T) {
	mock, s := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT stats FROM scrape_runs").WillReturnError(pgx.ErrNoRows)

	got, err := s.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgresStore_RunRecords(t *testing.T) {
	mock, s := newMockPostgresStore(t)
	recs := testRecords()
	a, _ := json.Marshal(recs[0])
	b, _ := json.Marshal(recs[1])

	mock.ExpectQuery("SELECT true FROM scrape_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"bool"}).AddRow(true))
	mock.ExpectQuery("SELECT record FROM run_providers WHERE run_id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(a).AddRow(b))

	got, err := s.RunRecords(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Glow Spa", got[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunRecordsUnknown(t *testing.T) {
	mock, s := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT true FROM scrape_runs").WillReturnError(pgx.ErrNoRows)

	_, err := s.RunRecords(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPostgresStore_Close(t *testing.T) {
	called := false
	s := &PostgresStore{closeFn: func() { called = true }}
	require.NoError(t, s.Close())
	assert.True(t, called)
}
