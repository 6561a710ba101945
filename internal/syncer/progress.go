package syncer

import "time"

// Status is the lifecycle state of the sync engine.
type Status string

// Engine states. idle is only observed before the first run.
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Progress is a point-in-time view of the current or most recent run.
type Progress struct {
	Status Status `json:"status"`
	// CurrentFile is the source-relative path of the file being transferred.
	CurrentFile    string `json:"current_file"`
	FilesProcessed int64  `json:"files_processed"`
	TotalFiles     int64  `json:"total_files"`
	BytesUploaded  int64  `json:"bytes_uploaded"`
	TotalBytes     int64  `json:"total_bytes"`
	ErrorMessage   string `json:"error_message"`

	RunID       string     `json:"run_id,omitempty"`
	Destination string     `json:"destination,omitempty"`
	FilesFailed int64      `json:"files_failed"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (p Progress) clone() Progress {
	out := p
	if p.StartedAt != nil {
		t := *p.StartedAt
		out.StartedAt = &t
	}
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
