package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/s3uploader/internal/store"
)

// RunStore keeps sync run history in-memory. It is used when no database is
// configured so the history endpoints still report runs since startup.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*store.SyncRun
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore returns an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]*store.SyncRun)}
}

// StartRun records a new running run; a repeated id is ignored.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, destination string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; ok {
		return nil
	}
	s.runs[runID] = &store.SyncRun{
		ID:          runID,
		Destination: destination,
		StartedAt:   startedAt,
		Status:      store.RunRunning,
	}
	return nil
}

// RecordTotals stores scan totals.
func (s *RunStore) RecordTotals(_ context.Context, runID uuid.UUID, totalFiles, totalBytes int64) error {
	return s.update(runID, func(run *store.SyncRun) {
		run.TotalFiles = totalFiles
		run.TotalBytes = totalBytes
	})
}

// AddFileResults applies per-file deltas.
func (s *RunStore) AddFileResults(_ context.Context, runID uuid.UUID, deltaProcessed, deltaFailed, deltaBytes int64) error {
	return s.update(runID, func(run *store.SyncRun) {
		run.FilesProcessed += deltaProcessed
		run.FilesFailed += deltaFailed
		run.BytesUploaded += deltaBytes
	})
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	return s.update(runID, func(run *store.SyncRun) {
		at := finishedAt
		run.FinishedAt = &at
		run.Status = status
		if errMsg != nil {
			msg := *errMsg
			run.ErrorMessage = &msg
		}
	})
}

// GetRun returns a copy of one run.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.SyncRun{}, store.ErrNotFound
	}
	return *run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.SyncRun, error) {
	s.mu.RLock()
	runs := make([]store.SyncRun, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, *run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if offset >= len(runs) {
		return []store.SyncRun{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *RunStore) update(runID uuid.UUID, fn func(*store.SyncRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	fn(run)
	return nil
}
