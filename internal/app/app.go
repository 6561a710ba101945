// Package app builds the long-lived services of the uploader from Config and
// runs the HTTP server until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/s3uploader/internal/api"
	"github.com/JakeFAU/s3uploader/internal/config"
	"github.com/JakeFAU/s3uploader/internal/progress"
	progresssinks "github.com/JakeFAU/s3uploader/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/s3uploader/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/s3uploader/internal/publisher/pubsub"
	"github.com/JakeFAU/s3uploader/internal/storage"
	memorystorage "github.com/JakeFAU/s3uploader/internal/storage/memory"
	pgstore "github.com/JakeFAU/s3uploader/internal/storage/postgres"
	"github.com/JakeFAU/s3uploader/internal/store"
	"github.com/JakeFAU/s3uploader/internal/syncer"
	"github.com/JakeFAU/s3uploader/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	fs       afero.Fs
	registry prometheus.Registerer

	engine         *syncer.Engine
	apiServer      *api.Server
	opener         *storage.DriverOpener
	progressHub    *progress.Hub
	publisher      *gcppublisher.Publisher
	notifier       progresssinks.Publisher
	runStore       *pgstore.RunStore
	runRepo        store.RunRepository
	tracerShutdown func(context.Context) error

	// stopRuns cancels the engine's base context so a running sync ends as
	// cancelled when the service stops.
	stopRuns context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Option customizes Build.
type Option func(*App)

// WithFilesystem replaces the OS filesystem holding the source tree.
func WithFilesystem(fsys afero.Fs) Option {
	return func(a *App) {
		if fsys != nil {
			a.fs = fsys
		}
	}
}

// WithRegisterer registers progress metrics somewhere other than the default
// Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) {
		if reg != nil {
			a.registry = reg
		}
	}
}

// Build creates the application's dependencies. On failure everything built
// so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:      cfg,
		logger:   logger,
		fs:       afero.NewOsFs(),
		registry: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(app)
	}
	defer func() {
		if err != nil {
			if app.stopRuns != nil {
				app.stopRuns()
			}
			app.closeInfrastructure(context.Background())
			app.closeObservability(context.Background())
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("base_path", cfg.Server.BasePath),
		zap.String("source_root", cfg.Source.Root),
		zap.String("storage_driver", cfg.Storage.Driver),
	)

	if cfg.Telemetry.Enabled {
		tp, tErr := telemetry.InitTracerProvider(ctx, cfg.Telemetry)
		if tErr != nil {
			return nil, fmt.Errorf("tracer init failed: %w", tErr)
		}
		app.tracerShutdown = tp.Shutdown
	}

	if err = setupRunRepository(ctx, app); err != nil {
		return nil, err
	}
	if err = setupPublisher(ctx, app); err != nil {
		return nil, err
	}
	emitter, err := setupProgress(app)
	if err != nil {
		return nil, err
	}

	app.opener = storage.NewOpener(cfg.Storage, logger, storage.WithFilesystem(app.fs))
	runCtx, stopRuns := context.WithCancel(context.WithoutCancel(ctx))
	app.stopRuns = stopRuns
	app.engine, err = syncer.New(syncer.Options{
		Fs:            app.fs,
		Root:          cfg.Source.Root,
		Opener:        app.opener,
		Emitter:       emitter,
		Logger:        logger,
		UploadTimeout: cfg.UploadTimeout(),
		BaseContext:   runCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("sync engine init failed: %w", err)
	}

	app.apiServer = api.NewServer(cfg, app.engine, logger.Named("api"),
		api.WithFilesystem(app.fs),
		api.WithRunRepository(app.runRepo),
		api.WithRemoteSource(app.opener.Remote),
		api.WithReadyCheck("source", app.sourceReady),
	)
	return app, nil
}

func setupRunRepository(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("No DSN specified for database, keeping sync history in memory")
		app.runRepo = memorystorage.NewRunStore()
		return nil
	}
	runStore, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.Table,
		MaxConns:        app.cfg.Database.MaxConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.runStore = runStore
	app.runRepo = runStore
	app.logger.Info("run store initialized", zap.String("table", app.cfg.Database.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		app.notifier = memorypublisher.New(memorypublisher.WithLogger(app.logger.Named("notifications")))
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = pub
	app.notifier = pub
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

func setupProgress(app *App) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return progress.NopEmitter{}, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(app.registry)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		promSink,
		progresssinks.NewStoreSink(app.runRepo, app.logger.Named("progress_store")),
		progresssinks.NewNotifySink(app.notifier, app.logger.Named("progress_notify")),
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}

	hubCfg := progress.ConfigFrom(app.cfg.Progress, app.logger.Named("progress_hub"))
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub, nil
}

func (a *App) sourceReady(context.Context) error {
	ok, err := afero.DirExists(a.fs, a.cfg.Source.Root)
	if err != nil {
		return fmt.Errorf("stat source root: %w", err)
	}
	if !ok {
		return fmt.Errorf("source root %s does not exist", a.cfg.Source.Root)
	}
	return nil
}

// Engine exposes the sync engine for the CLI.
func (a *App) Engine() *syncer.Engine {
	return a.engine
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives, then
// shuts down and closes every dependency.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.Serve(ctx, lis)
}

// Serve runs the HTTP server on lis until ctx is done.
func (a *App) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			a.logger.Error("http server error", zap.Error(err))
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Close cancels any running sync, waits for its worker, and releases every
// dependency in reverse order of construction. Later calls return the first
// call's result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.stopRuns != nil {
			a.stopRuns()
		}
		if a.engine != nil {
			if err := a.engine.Wait(ctx); err != nil {
				a.logger.Warn("sync worker did not stop in time", zap.Error(err))
				a.closeErr = err
			}
		}
		a.closeInfrastructure(ctx)
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return a.closeErr
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.runStore != nil {
		a.runStore.Close()
		a.runStore = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
	// Sync fails on non-file outputs such as a terminal; the error is dropped.
	_ = a.logger.Sync()
}
