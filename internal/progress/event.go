// Package progress defines the event structures emitted by the sync engine.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSyncStart     Stage = "SYNC_START"
	StageSyncScanned   Stage = "SYNC_SCANNED"
	StageFileDone      Stage = "FILE_DONE"
	StageFileError     Stage = "FILE_ERROR"
	StageSyncDone      Stage = "SYNC_DONE"
	StageSyncError     Stage = "SYNC_ERROR"
	StageSyncCancelled Stage = "SYNC_CANCELLED"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	switch s {
	case StageSyncDone, StageSyncError, StageSyncCancelled:
		return true
	default:
		return false
	}
}

// Lifecycle reports whether the stage describes the run as a whole rather
// than one file.
func (s Stage) Lifecycle() bool {
	return s != StageFileDone && s != StageFileError
}

// Event captures a single milestone of a sync run.
type Event struct {
	// RunID uniquely identifies a sync run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or file milestone occurred.
	Stage Stage
	// Destination is the key prefix of the run; set on SYNC_START.
	Destination string
	// Key is the object key for file events.
	Key string
	// Bytes is the file size for FILE_DONE or the scanned total for SYNC_SCANNED.
	Bytes int64
	// Files is the scanned file count for SYNC_SCANNED.
	Files int64
	// Dur captures transfer latency for files and wall time for terminal events.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSyncStart:
		if e.Destination == "" {
			return errors.New("sync start requires destination")
		}
	case StageSyncScanned, StageSyncDone, StageSyncCancelled:
	case StageSyncError:
		if e.Note == "" {
			return errors.New("sync error requires note")
		}
	case StageFileDone, StageFileError:
		if e.Key == "" {
			return fmt.Errorf("%s requires key", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Bytes < 0 || e.Files < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
