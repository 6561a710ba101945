package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/s3uploader/internal/progress"
)

// Publisher sends a JSON-serializable payload tagged with an event type.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) (string, error)
}

// Notification is published once per finished sync.
type Notification struct {
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"`
	Destination    string    `json:"destination"`
	TotalFiles     int64     `json:"total_files"`
	TotalBytes     int64     `json:"total_bytes"`
	FilesProcessed int64     `json:"files_processed"`
	FilesFailed    int64     `json:"files_failed"`
	BytesUploaded  int64     `json:"bytes_uploaded"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	DurationMs     int64     `json:"duration_ms"`
}

// Event types used for notifications.
const (
	EventSyncCompleted = "sync.completed"
	EventSyncError     = "sync.error"
	EventSyncCancelled = "sync.cancelled"
)

// NotifySink accumulates per-run counters and publishes a Notification when a
// run reaches a terminal stage.
type NotifySink struct {
	pub    Publisher
	logger *zap.Logger

	mu   sync.Mutex
	runs map[[16]byte]*Notification
}

// NewNotifySink constructs a NotifySink for pub.
func NewNotifySink(pub Publisher, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{pub: pub, logger: logger, runs: make(map[[16]byte]*Notification)}
}

// Consume updates run summaries and publishes finished ones.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var ready []Notification
	s.mu.Lock()
	for _, evt := range batch {
		n := s.runs[evt.RunID]
		if n == nil {
			n = &Notification{RunID: uuid.UUID(evt.RunID).String()}
			s.runs[evt.RunID] = n
		}
		switch evt.Stage {
		case progress.StageSyncStart:
			n.Destination = evt.Destination
			n.StartedAt = evt.TS
		case progress.StageSyncScanned:
			n.TotalFiles = evt.Files
			n.TotalBytes = evt.Bytes
		case progress.StageFileDone:
			n.FilesProcessed++
			n.BytesUploaded += evt.Bytes
		case progress.StageFileError:
			n.FilesFailed++
		case progress.StageSyncDone, progress.StageSyncError, progress.StageSyncCancelled:
			n.Status = terminalStatus(evt.Stage)
			n.Error = evt.Note
			n.FinishedAt = evt.TS
			n.DurationMs = evt.Dur.Milliseconds()
			ready = append(ready, *n)
			delete(s.runs, evt.RunID)
		}
	}
	s.mu.Unlock()

	for _, n := range ready {
		id, err := s.pub.Publish(ctx, eventType(n.Status), n)
		if err != nil {
			return fmt.Errorf("publish %s notification: %w", n.Status, err)
		}
		s.logger.Debug("sync notification published", zap.String("run_id", n.RunID), zap.String("message_id", id))
	}
	return nil
}

func terminalStatus(stage progress.Stage) string {
	switch stage {
	case progress.StageSyncDone:
		return "completed"
	case progress.StageSyncCancelled:
		return "cancelled"
	default:
		return "error"
	}
}

func eventType(status string) string {
	switch status {
	case "completed":
		return EventSyncCompleted
	case "cancelled":
		return EventSyncCancelled
	default:
		return EventSyncError
	}
}

// Close drops summaries of runs that never finished.
func (s *NotifySink) Close(context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) > 0 {
		s.logger.Debug("dropping unfinished run summaries", zap.Int("runs", len(s.runs)))
	}
	s.runs = make(map[[16]byte]*Notification)
	return nil
}
