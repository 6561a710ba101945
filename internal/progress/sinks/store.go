package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/s3uploader/internal/progress"
	"github.com/JakeFAU/s3uploader/internal/store"
)

// StoreSink persists run history via a store.RunRepository. File results in a
// batch are collapsed into one delta per run to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type fileDelta struct {
	processed int64
	failed    int64
	bytes     int64
}

// Consume forwards lifecycle events in order and flushes collapsed file deltas
// before any terminal event of the same run. It respects ctx deadlines and
// returns repository errors.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*fileDelta)
	var order []uuid.UUID

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageFileDone, progress.StageFileError:
			d := deltas[runID]
			if d == nil {
				d = &fileDelta{}
				deltas[runID] = d
				order = append(order, runID)
			}
			if evt.Stage == progress.StageFileDone {
				d.processed++
				d.bytes += evt.Bytes
			} else {
				d.failed++
			}
		case progress.StageSyncStart:
			if err := s.repo.StartRun(ctx, runID, evt.Destination, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageSyncScanned:
			if err := s.repo.RecordTotals(ctx, runID, evt.Files, evt.Bytes); err != nil {
				return fmt.Errorf("record totals: %w", err)
			}
		case progress.StageSyncDone, progress.StageSyncError, progress.StageSyncCancelled:
			if err := s.flushDelta(ctx, runID, deltas); err != nil {
				return err
			}
			if err := s.complete(ctx, runID, evt); err != nil {
				return err
			}
		}
	}

	for _, runID := range order {
		if err := s.flushDelta(ctx, runID, deltas); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) flushDelta(ctx context.Context, runID uuid.UUID, deltas map[uuid.UUID]*fileDelta) error {
	d := deltas[runID]
	if d == nil {
		return nil
	}
	delete(deltas, runID)
	if err := s.repo.AddFileResults(ctx, runID, d.processed, d.failed, d.bytes); err != nil {
		return fmt.Errorf("add file results: %w", err)
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	var (
		status store.RunStatus
		note   *string
	)
	switch evt.Stage {
	case progress.StageSyncDone:
		status = store.RunCompleted
	case progress.StageSyncCancelled:
		status = store.RunCancelled
	default:
		status = store.RunError
	}
	if evt.Note != "" {
		msg := evt.Note
		note = &msg
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
