// Package store declares interfaces for persisting sync run history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("sync run not found")

// RunStatus mirrors the sync_runs status column.
type RunStatus string

// Run statuses persisted in sync_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// SyncRun models one row of sync history.
type SyncRun struct {
	ID             uuid.UUID  `json:"run_id"`
	Destination    string     `json:"destination"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Status         RunStatus  `json:"status"`
	TotalFiles     int64      `json:"total_files"`
	TotalBytes     int64      `json:"total_bytes"`
	FilesProcessed int64      `json:"files_processed"`
	FilesFailed    int64      `json:"files_failed"`
	BytesUploaded  int64      `json:"bytes_uploaded"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
}

// RunRepository persists sync run progress.
type RunRepository interface {
	// StartRun inserts the run in the running state.
	StartRun(ctx context.Context, runID uuid.UUID, destination string, startedAt time.Time) error
	// RecordTotals stores the scan totals for a run.
	RecordTotals(ctx context.Context, runID uuid.UUID, totalFiles, totalBytes int64) error
	// AddFileResults applies processed/failed/byte deltas.
	AddFileResults(ctx context.Context, runID uuid.UUID, deltaProcessed, deltaFailed, deltaBytes int64) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (SyncRun, error)
	// ListRuns returns runs newest first, filtered by optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]SyncRun, error)
}
