package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/s3uploader/internal/store"
)

func newMockStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	return s, mock
}

func runColumnsList() []string {
	return []string{
		"id", "destination", "started_at", "finished_at", "status", "total_files", "total_bytes",
		"files_processed", "files_failed", "bytes_uploaded", "error_message",
	}
}

func TestNewRunStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	_, err := NewRunStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewRunStore(context.Background(), RunStoreConfig{})
	require.ErrorContains(t, err, "database.dsn")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sync_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLifecycleWrites(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)
	msg := "boom"

	mock.ExpectExec("INSERT INTO sync_runs").
		WithArgs(runID, "out", started, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE sync_runs SET total_files").
		WithArgs(int64(5), int64(23), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE sync_runs SET files_processed").
		WithArgs(int64(1), int64(0), int64(7), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE sync_runs SET finished_at").
		WithArgs(finished, store.RunError, &msg, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.StartRun(ctx, runID, "out", started))
	require.NoError(t, s.RecordTotals(ctx, runID, 5, 23))
	require.NoError(t, s.AddFileResults(ctx, runID, 1, 0, 7))
	require.NoError(t, s.CompleteRun(ctx, runID, finished, store.RunError, &msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddFileResultsUnknownRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.New()
	mock.ExpectExec("UPDATE sync_runs SET files_processed").
		WithArgs(int64(0), int64(1), int64(0), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.AddFileResults(context.Background(), runID, 0, 1, 0)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestExecErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO sync_runs").WillReturnError(boom)

	err := s.StartRun(context.Background(), uuid.New(), "out", time.Now())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to start run")
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(2 * time.Minute)

	rows := pgxmock.NewRows(runColumnsList()).
		AddRow(runID, "out", started, &finished, store.RunCompleted, int64(5), int64(23),
			int64(4), int64(1), int64(20), (*string)(nil))
	mock.ExpectQuery("SELECT (.+) FROM sync_runs WHERE id").
		WithArgs(runID).
		WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Equal(t, int64(4), run.FilesProcessed)
	assert.Equal(t, int64(1), run.FilesFailed)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, finished.Equal(*run.FinishedAt))
	assert.Nil(t, run.ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM sync_runs WHERE id").
		WithArgs(runID).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), runID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()
	status := store.RunCancelled

	rows := pgxmock.NewRows(runColumnsList()).
		AddRow(uuid.New(), "b", started.Add(time.Hour), (*time.Time)(nil), store.RunCancelled,
			int64(2), int64(2), int64(1), int64(0), int64(1), (*string)(nil)).
		AddRow(uuid.New(), "a", started, (*time.Time)(nil), store.RunCancelled,
			int64(1), int64(1), int64(0), int64(0), int64(0), (*string)(nil))
	mock.ExpectQuery("SELECT (.+) FROM sync_runs").
		WithArgs(&status, 10, 0).
		WillReturnRows(rows)

	runs, err := s.ListRuns(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].Destination)
	assert.Equal(t, "a", runs[1].Destination)
	require.NoError(t, mock.ExpectationsWereMet())
}
