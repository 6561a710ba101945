package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/s3uploader/internal/config"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the event queue (default 1024).
//   - Reserve: queue slots only lifecycle events may use (default BufferSize/8, at least 1).
//   - MaxBatchEvents: flush once this many events queue (default 100).
//   - MaxBatchWait: longest an event waits in a partial batch (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 5s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	Reserve        int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

// ConfigFrom maps the progress settings onto a Hub Config.
func ConfigFrom(cfg config.ProgressConfig, logger *zap.Logger) Config {
	return Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(cfg.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.SinkTimeoutMs) * time.Millisecond,
		Logger:         logger,
	}
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 100
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.Reserve <= 0 {
		c.Reserve = max(c.BufferSize/8, 1)
	}
	c.Reserve = min(c.Reserve, c.BufferSize)
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub batches sync events and fans them out to sinks on one goroutine, so
// each sink sees events in emission order. Emit never blocks: when the queue
// is full, per-file events are dropped first, while lifecycle events
// (start, scanned, terminal) may still use the reserved slots.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropLog *rate.Sometimes
	dropped atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine. The returned Hub accepts events
// immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  cfg.Logger,
		dropLog: &rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues an Event for batching.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	if !evt.Stage.Lifecycle() && len(h.events) >= cap(h.events)-h.cfg.Reserve {
		h.drop(evt)
		return
	}
	select {
	case h.events <- evt:
	default:
		h.drop(evt)
	}
}

func (h *Hub) drop(evt Event) {
	total := h.dropped.Add(1)
	if h.dropLog == nil {
		return
	}
	h.dropLog.Do(func() {
		h.logger.Warn("progress events dropped due to backpressure",
			zap.Int64("dropped_total", total),
			zap.String("stage", string(evt.Stage)))
	})
}

// Dropped reports how many events have been discarded because the queue was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close drains queued events, flushes them, closes the sinks and waits for
// the batching goroutine. Repeated calls wait on the same shutdown.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// batch holds pending events and the deadline set by the oldest of them.
type batch struct {
	events   []Event
	timer    *time.Timer
	deadline <-chan time.Time
}

func (b *batch) add(evt Event, wait time.Duration) {
	b.events = append(b.events, evt)
	if b.timer == nil {
		b.timer = time.NewTimer(wait)
		b.deadline = b.timer.C
	}
}

func (b *batch) take() []Event {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
		b.deadline = nil
	}
	out := b.events
	b.events = nil
	return out
}

func (h *Hub) run() {
	defer close(h.doneCh)
	var pending batch
	for {
		select {
		case evt := <-h.events:
			pending.add(evt, h.cfg.MaxBatchWait)
			// Terminal events go out at once so history reflects the result.
			if len(pending.events) >= h.cfg.MaxBatchEvents || evt.Stage.Terminal() {
				h.flush(pending.take())
			}
		case <-pending.deadline:
			h.flush(pending.take())
		case <-h.stopCh:
			h.drain(&pending)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(pending *batch) {
	for {
		select {
		case evt := <-h.events:
			pending.add(evt, h.cfg.MaxBatchWait)
			if len(pending.events) >= h.cfg.MaxBatchEvents {
				h.flush(pending.take())
			}
		default:
			h.flush(pending.take())
			return
		}
	}
}

func (h *Hub) flush(events []Event) {
	if len(events) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, events); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(events)),
				zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Error(err))
		}
	}
}
