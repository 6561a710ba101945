// Package syncer runs one directory-to-bucket sync at a time in the
// background and exposes its progress for polling.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/s3uploader/internal/config"
	"github.com/JakeFAU/s3uploader/internal/exclude"
	"github.com/JakeFAU/s3uploader/internal/progress"
	"github.com/JakeFAU/s3uploader/internal/scan"
	"github.com/JakeFAU/s3uploader/internal/storage"
)

var (
	// ErrInvalidDestination is returned for an empty or root-only destination.
	ErrInvalidDestination = errors.New("subfolder cannot be empty or just \"/\"")
	// ErrConflict is returned when a sync is already running.
	ErrConflict = errors.New("upload is already in progress")
	// ErrNothingToCancel is returned when no sync is running.
	ErrNothingToCancel = errors.New("no upload in progress")
)

var tracer = otel.Tracer("github.com/JakeFAU/s3uploader/internal/syncer")

// sniffLen is how much of each file is read to detect its content type.
const sniffLen = 512

// Options configures an Engine.
type Options struct {
	// Fs is the filesystem holding the source tree; defaults to the OS.
	Fs afero.Fs
	// Root is the source directory.
	Root string
	// Opener builds the object store for each run.
	Opener storage.Opener
	// ExcludeList returns the whitespace-separated exclude fragments. It is
	// called once per run and per scan; defaults to config.ExcludeList.
	ExcludeList func() string
	// Emitter receives progress events; defaults to a no-op.
	Emitter progress.Emitter
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// UploadTimeout bounds each file transfer; zero means no limit.
	UploadTimeout time.Duration
	// BaseContext is the parent of every run. Cancelling it cancels a
	// running sync.
	BaseContext context.Context
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine owns the sync state machine. All methods are safe for concurrent use.
type Engine struct {
	fs            afero.Fs
	root          string
	opener        storage.Opener
	excludeList   func() string
	emitter       progress.Emitter
	logger        *zap.Logger
	uploadTimeout time.Duration
	baseCtx       context.Context
	now           func() time.Time

	mu      sync.Mutex
	state   Progress
	runID   uuid.UUID
	started time.Time
	done    chan struct{}
}

// New validates opts and returns an idle Engine.
func New(opts Options) (*Engine, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("source root is required")
	}
	if opts.Opener == nil {
		return nil, fmt.Errorf("storage opener is required")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.ExcludeList == nil {
		opts.ExcludeList = config.ExcludeList
	}
	if opts.Emitter == nil {
		opts.Emitter = progress.NopEmitter{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		fs:            opts.Fs,
		root:          filepath.Clean(opts.Root),
		opener:        opts.Opener,
		excludeList:   opts.ExcludeList,
		emitter:       opts.Emitter,
		logger:        opts.Logger.Named("syncer"),
		uploadTimeout: opts.UploadTimeout,
		baseCtx:       opts.BaseContext,
		now:           opts.Now,
		state:         Progress{Status: StatusIdle},
	}, nil
}

// Root returns the cleaned source directory.
func (e *Engine) Root() string {
	return e.root
}

// Policy builds the exclusion policy from the current exclude list.
func (e *Engine) Policy() exclude.Policy {
	return exclude.NewPolicy(e.root, exclude.ParseList(e.excludeList()))
}

// Scan totals the files a sync would transfer right now.
func (e *Engine) Scan() scan.Stats {
	return scan.Scan(e.fs, e.root, e.Policy())
}

// Inspect reports found and excluded entries of the source tree.
func (e *Engine) Inspect() scan.Report {
	return scan.Inspect(e.fs, e.root, e.Policy())
}

// Snapshot returns a copy of the current progress.
func (e *Engine) Snapshot() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Start begins a sync into destination and returns the initial progress. It
// fails with ErrInvalidDestination, or with ErrConflict while a sync runs or
// the worker of a cancelled sync has not yet exited. Progress is left
// untouched on failure.
func (e *Engine) Start(destination string) (Progress, error) {
	dest, err := NormalizeDestination(destination)
	if err != nil {
		return Progress{}, err
	}

	e.mu.Lock()
	if e.state.Status == StatusRunning || e.workerActiveLocked() {
		e.mu.Unlock()
		return Progress{}, ErrConflict
	}
	// Version 7 IDs sort by start time.
	runID, err := uuid.NewV7()
	if err != nil {
		runID = uuid.New()
	}
	now := e.now().UTC()
	e.runID = runID
	e.started = now
	e.done = make(chan struct{})
	e.state = Progress{
		Status:      StatusRunning,
		RunID:       runID.String(),
		Destination: dest,
		StartedAt:   &now,
	}
	snapshot := e.state.clone()
	done := e.done
	e.emitLocked(runID, progress.Event{Stage: progress.StageSyncStart, Destination: dest})
	e.mu.Unlock()

	e.logger.Info("sync started", zap.String("run_id", runID.String()), zap.String("destination", dest))

	go e.run(runID, dest, done)
	return snapshot, nil
}

// Cancel stops a running sync. A transfer already in flight completes but is
// not counted, so bytes uploaded can understate what reached the bucket. The
// same holds when the base context is cancelled. It returns
// ErrNothingToCancel when no sync is running.
func (e *Engine) Cancel() error {
	runID, ok := e.transition(uuid.Nil, StatusCancelled, "")
	if !ok {
		return ErrNothingToCancel
	}
	e.logger.Info("sync cancelled", zap.String("run_id", runID.String()))
	return nil
}

func (e *Engine) workerActiveLocked() bool {
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the current run's worker exits or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for sync: %w", ctx.Err())
	}
}

func (e *Engine) run(runID uuid.UUID, dest string, done chan struct{}) {
	defer close(done)
	logger := e.logger.With(zap.String("run_id", runID.String()))
	ctx, span := tracer.Start(e.baseCtx, "sync.run", trace.WithAttributes(
		attribute.String("sync.run_id", runID.String()),
		attribute.String("sync.destination", dest),
	))
	defer span.End()

	store, err := e.opener.Open(ctx)
	if err != nil {
		logger.Error("open object store", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		e.transition(runID, StatusError, err.Error())
		return
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close object store", zap.Error(err))
		}
	}()

	policy := e.Policy()
	stats := scan.Scan(e.fs, e.root, policy)
	if !e.setTotals(runID, stats) {
		return
	}
	logger.Info("source scanned", zap.Int64("files", stats.Files), zap.Int64("bytes", stats.Bytes))
	span.SetAttributes(attribute.Int64("sync.total_files", stats.Files), attribute.Int64("sync.total_bytes", stats.Bytes))

	if stats.Files == 0 {
		e.transition(runID, StatusCompleted, "")
		return
	}

	err = scan.Walk(e.fs, e.root, policy, func(f scan.File) error {
		if ctx.Err() != nil {
			e.transition(runID, StatusCancelled, "")
			return iofs.SkipAll
		}
		if !e.setCurrent(runID, f.Rel) {
			return iofs.SkipAll
		}
		key := DestinationKey(dest, f.Rel)
		start := time.Now()
		size, err := e.transfer(ctx, store, key, f.Path)
		if ctx.Err() != nil {
			e.transition(runID, StatusCancelled, "")
			return iofs.SkipAll
		}
		if err != nil {
			logger.Warn("upload failed", zap.String("key", key), zap.Error(err))
			e.recordFailure(runID, key, err)
			return nil
		}
		e.recordSuccess(runID, key, size, time.Since(start))
		return nil
	})
	if err != nil {
		logger.Error("walk source", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		e.transition(runID, StatusError, err.Error())
		return
	}
	e.transition(runID, StatusCompleted, "")
}

// transfer uploads one file. The size is read at transfer time so bytes
// uploaded reflect what was sent.
func (e *Engine) transfer(ctx context.Context, store storage.BlobStore, key, path string) (size int64, err error) {
	ctx, span := tracer.Start(ctx, "sync.transfer", trace.WithAttributes(attribute.String("object.key", key)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transfer failed")
		}
		span.End()
	}()

	file, err := e.fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close() //nolint:errcheck // read-only handle

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	size = info.Size()
	span.SetAttributes(attribute.Int64("object.size", size))

	contentType, err := detectContentType(file)
	if err != nil {
		return 0, fmt.Errorf("detect content type of %s: %w", path, err)
	}

	if e.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.uploadTimeout)
		defer cancel()
	}
	if _, err := store.PutObject(ctx, key, contentType, file, size); err != nil {
		return 0, fmt.Errorf("upload %s: %w", key, err)
	}
	return size, nil
}

func detectContentType(r io.ReadSeeker) (string, error) {
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err //nolint:wrapcheck // wrapped by caller
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err //nolint:wrapcheck // wrapped by caller
	}
	return mimetype.Detect(buf[:n]).String(), nil
}

// transition moves the run out of running into status. A zero runID matches
// whichever run is active. It reports the affected run and whether the
// transition happened.
func (e *Engine) transition(runID uuid.UUID, status Status, message string) (uuid.UUID, bool) {
	e.mu.Lock()
	if e.state.Status != StatusRunning || (runID != uuid.Nil && runID != e.runID) {
		e.mu.Unlock()
		return uuid.Nil, false
	}
	now := e.now().UTC()
	e.state.Status = status
	e.state.ErrorMessage = message
	e.state.FinishedAt = &now
	if status == StatusCompleted {
		e.state.CurrentFile = ""
	}
	active := e.runID
	elapsed := max(now.Sub(e.started), 0)
	snapshot := e.state.clone()
	evt := progress.Event{TS: now, Dur: elapsed, Note: message}
	switch status {
	case StatusCompleted:
		evt.Stage = progress.StageSyncDone
	case StatusCancelled:
		evt.Stage = progress.StageSyncCancelled
	default:
		evt.Stage = progress.StageSyncError
	}
	e.emitLocked(active, evt)
	e.mu.Unlock()

	if status != StatusCancelled {
		e.logger.Info("sync finished",
			zap.String("run_id", active.String()),
			zap.String("status", string(status)),
			zap.Int64("files_processed", snapshot.FilesProcessed),
			zap.Int64("files_failed", snapshot.FilesFailed),
			zap.Int64("bytes_uploaded", snapshot.BytesUploaded))
	}
	return active, true
}

func (e *Engine) setTotals(runID uuid.UUID, stats scan.Stats) bool {
	return e.update(runID, func(p *Progress) *progress.Event {
		p.TotalFiles = stats.Files
		p.TotalBytes = stats.Bytes
		return &progress.Event{Stage: progress.StageSyncScanned, Files: stats.Files, Bytes: stats.Bytes}
	})
}

func (e *Engine) setCurrent(runID uuid.UUID, rel string) bool {
	return e.update(runID, func(p *Progress) *progress.Event {
		p.CurrentFile = filepath.ToSlash(rel)
		return nil
	})
}

// recordSuccess counts a finished file. Files and bytes move together.
func (e *Engine) recordSuccess(runID uuid.UUID, key string, size int64, dur time.Duration) {
	e.update(runID, func(p *Progress) *progress.Event {
		p.FilesProcessed++
		p.BytesUploaded += size
		return &progress.Event{Stage: progress.StageFileDone, Key: key, Bytes: size, Dur: dur}
	})
}

func (e *Engine) recordFailure(runID uuid.UUID, key string, err error) {
	e.update(runID, func(p *Progress) *progress.Event {
		p.FilesFailed++
		return &progress.Event{Stage: progress.StageFileError, Key: key, Note: err.Error()}
	})
}

// update applies fn while runID is the active, running run and emits the event
// fn returns, if any, before releasing the lock so events keep state order.
func (e *Engine) update(runID uuid.UUID, fn func(*Progress) *progress.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runID != runID || e.state.Status != StatusRunning {
		return false
	}
	if evt := fn(&e.state); evt != nil {
		e.emitLocked(runID, *evt)
	}
	return true
}

// emitLocked stamps and forwards evt. Callers hold e.mu; emitters must not
// block or call back into the engine.
func (e *Engine) emitLocked(runID uuid.UUID, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(runID)
	if evt.TS.IsZero() {
		evt.TS = e.now().UTC()
	}
	e.emitter.Emit(evt)
}
