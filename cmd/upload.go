package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/s3uploader/internal/api"
	"github.com/JakeFAU/s3uploader/internal/syncer"
)

// errSyncFailed is returned when the foreground sync ends in error or is cancelled.
var errSyncFailed = errors.New("sync did not complete")

func newUploadCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "upload <subfolder>",
		Short: "Sync the source tree once and wait for it to finish",
		Long: `Uploads every selected file under the source root to the bucket prefix
<subfolder>, printing progress every --interval. SIGINT cancels the sync.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runUpload(ctx, cmd.OutOrStdout(), appInstance.Engine(), args[0], interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "how often progress is printed")
	return cmd
}

func runUpload(ctx context.Context, out io.Writer, engine *syncer.Engine, subfolder string, interval time.Duration) error {
	started, err := engine.Start(subfolder)
	if err != nil {
		return fmt.Errorf("start sync: %w", err)
	}
	fmt.Fprintf(out, "sync %s started: %s -> %s\n", started.RunID, engine.Root(), started.Destination)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Wait only fails when its context ends; this one never does.
		_ = engine.Wait(context.Background())
	}()

	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	interrupted := ctx.Done()
	for {
		select {
		case <-ticker.C:
			printProgress(out, engine.Snapshot())
		case <-interrupted:
			interrupted = nil
			if err := engine.Cancel(); err != nil && !errors.Is(err, syncer.ErrNothingToCancel) {
				zap.L().Warn("cancel sync failed", zap.Error(err))
			}
		case <-done:
			final := engine.Snapshot()
			printProgress(out, final)
			switch final.Status {
			case syncer.StatusCompleted:
				fmt.Fprintf(out, "sync completed: %d files, %s uploaded, %d failed\n",
					final.FilesProcessed, api.FormatSize(final.BytesUploaded), final.FilesFailed)
				return nil
			case syncer.StatusCancelled:
				return fmt.Errorf("%w: cancelled", errSyncFailed)
			default:
				return fmt.Errorf("%w: %s", errSyncFailed, final.ErrorMessage)
			}
		}
	}
}

func printProgress(out io.Writer, p syncer.Progress) {
	fmt.Fprintf(out, "[%s] files %d/%d (%d failed) bytes %s/%s %s\n",
		p.Status, p.FilesProcessed, p.TotalFiles, p.FilesFailed,
		api.FormatSize(p.BytesUploaded), api.FormatSize(p.TotalBytes), p.CurrentFile)
}
