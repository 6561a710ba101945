// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/s3uploader/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable holds sync run rows unless configured otherwise.
const DefaultTable = "sync_runs"

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of *pgxpool.Pool used by RunStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool  Pool
	table string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to Postgres and ensures the run table exists.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewRunStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool Pool, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the run table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			destination TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			total_files BIGINT NOT NULL DEFAULT 0,
			total_bytes BIGINT NOT NULL DEFAULT 0,
			files_processed BIGINT NOT NULL DEFAULT 0,
			files_failed BIGINT NOT NULL DEFAULT 0,
			bytes_uploaded BIGINT NOT NULL DEFAULT 0,
			error_message TEXT
		);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.table, err)
	}
	return nil
}

// StartRun inserts a run in the running state.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, destination string, startedAt time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, destination, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, destination, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// RecordTotals stores the scan totals.
func (s *RunStore) RecordTotals(ctx context.Context, runID uuid.UUID, totalFiles, totalBytes int64) error {
	query := fmt.Sprintf(`
		UPDATE %s SET total_files = $1, total_bytes = $2
		WHERE id = $3;`, s.table)
	if _, err := s.pool.Exec(ctx, query, totalFiles, totalBytes, runID); err != nil {
		return fmt.Errorf("failed to record totals: %w", err)
	}
	return nil
}

// AddFileResults applies per-file deltas.
func (s *RunStore) AddFileResults(
	ctx context.Context,
	runID uuid.UUID,
	deltaProcessed,
	deltaFailed,
	deltaBytes int64,
) error {
	query := fmt.Sprintf(`
		UPDATE %s SET files_processed = files_processed + $1,
			files_failed = files_failed + $2,
			bytes_uploaded = bytes_uploaded + $3
		WHERE id = $4;`, s.table)
	res, err := s.pool.Exec(ctx, query, deltaProcessed, deltaFailed, deltaBytes, runID)
	if err != nil {
		return fmt.Errorf("failed to add file results: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompleteRun marks a run finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;`, s.table)
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

const runColumns = `id, destination, started_at, finished_at, status, total_files, total_bytes,
			files_processed, files_failed, bytes_uploaded, error_message`

func scanRun(row pgx.Row) (store.SyncRun, error) {
	var run store.SyncRun
	err := row.Scan(
		&run.ID,
		&run.Destination,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.TotalFiles,
		&run.TotalBytes,
		&run.FilesProcessed,
		&run.FilesFailed,
		&run.BytesUploaded,
		&run.ErrorMessage,
	)
	return run, err //nolint:wrapcheck // callers wrap with context
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.SyncRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1;`, runColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.SyncRun{}, store.ErrNotFound
		}
		return store.SyncRun{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.SyncRun, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`, runColumns, s.table)
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.SyncRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
