package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/s3uploader/internal/progress"
)

// PrometheusSink exports sync progress metrics via Prometheus. It owns all
// collectors for syncs started/finished/running and per-file upload counters.
type PrometheusSink struct {
	syncsStarted  prometheus.Counter
	syncsFinished *prometheus.CounterVec
	syncsRunning  prometheus.Gauge
	syncRuntime   *prometheus.HistogramVec

	filesUploaded  *prometheus.CounterVec
	bytesUploaded  prometheus.Counter
	uploadDuration prometheus.Histogram

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		syncsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "s3uploader_syncs_started_total",
			Help: "Total syncs that have started.",
		}),
		syncsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "s3uploader_syncs_finished_total",
			Help: "Total syncs finished partitioned by result.",
		}, []string{"result"}),
		syncsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "s3uploader_syncs_running",
			Help: "Current number of running syncs.",
		}),
		syncRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "s3uploader_sync_runtime_seconds",
			Help:    "Wall time per finished sync.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		filesUploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "s3uploader_files_total",
			Help: "Files attempted partitioned by result.",
		}, []string{"result"}),
		bytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "s3uploader_bytes_uploaded_total",
			Help: "Bytes uploaded across all syncs.",
		}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "s3uploader_file_upload_duration_seconds",
			Help:    "Per-file upload duration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.syncsStarted,
		s.syncsFinished,
		s.syncsRunning,
		s.syncRuntime,
		s.filesUploaded,
		s.bytesUploaded,
		s.uploadDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageSyncStart:
		s.syncsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.syncsRunning.Inc()
		}
	case progress.StageSyncDone:
		s.finish(evt, "completed")
	case progress.StageSyncError:
		s.finish(evt, "error")
	case progress.StageSyncCancelled:
		s.finish(evt, "cancelled")
	case progress.StageFileDone:
		s.filesUploaded.WithLabelValues("uploaded").Inc()
		if evt.Bytes > 0 {
			s.bytesUploaded.Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.uploadDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageFileError:
		s.filesUploaded.WithLabelValues("failed").Inc()
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.syncsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.syncRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.syncsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
