package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/s3uploader/internal/progress"
)

// LogSink writes one structured log line per sync event. Successful file
// uploads go to debug so large trees do not flood production logs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event with only the fields its stage carries.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level, msg, fields := describe(evt)
		ce := s.logger.Check(level, msg)
		if ce == nil {
			continue
		}
		ce.Write(append(fields, zap.String("run_id", uuid.UUID(evt.RunID).String()))...)
	}
	return nil
}

func describe(evt progress.Event) (zapcore.Level, string, []zap.Field) {
	switch evt.Stage {
	case progress.StageSyncStart:
		return zapcore.InfoLevel, "sync started", []zap.Field{zap.String("destination", evt.Destination)}
	case progress.StageSyncScanned:
		return zapcore.InfoLevel, "source scanned", []zap.Field{zap.Int64("files", evt.Files), zap.Int64("bytes", evt.Bytes)}
	case progress.StageFileDone:
		return zapcore.DebugLevel, "file uploaded", []zap.Field{
			zap.String("key", evt.Key), zap.Int64("bytes", evt.Bytes), zap.Duration("dur", evt.Dur),
		}
	case progress.StageFileError:
		return zapcore.WarnLevel, "file upload failed", []zap.Field{zap.String("key", evt.Key), zap.String("error", evt.Note)}
	case progress.StageSyncDone:
		return zapcore.InfoLevel, "sync completed", []zap.Field{zap.Duration("dur", evt.Dur)}
	case progress.StageSyncError:
		return zapcore.ErrorLevel, "sync failed", []zap.Field{zap.String("error", evt.Note), zap.Duration("dur", evt.Dur)}
	case progress.StageSyncCancelled:
		return zapcore.InfoLevel, "sync cancelled", []zap.Field{zap.Duration("dur", evt.Dur)}
	default:
		return zapcore.DebugLevel, "sync event", []zap.Field{zap.String("stage", string(evt.Stage))}
	}
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
