package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/s3uploader/internal/config"
	"github.com/JakeFAU/s3uploader/internal/metrics"
	"github.com/JakeFAU/s3uploader/internal/scan"
	"github.com/JakeFAU/s3uploader/internal/store"
	"github.com/JakeFAU/s3uploader/internal/syncer"
)

const requestTimeout = 60 * time.Second

// SyncEngine is the part of syncer.Engine the handlers drive.
type SyncEngine interface {
	Start(destination string) (syncer.Progress, error)
	Cancel() error
	Snapshot() syncer.Progress
	Scan() scan.Stats
	Inspect() scan.Report
	Root() string
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Server wires HTTP handlers to the sync engine and run history.
type Server struct {
	router      chi.Router
	engine      SyncEngine
	history     *HistoryHandler
	cfg         config.Config
	fs          afero.Fs
	remote      func() config.RemoteStore
	excludeList func() string
	ready       map[string]ReadyCheck
	logger      *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithRunRepository enables the history endpoints.
func WithRunRepository(repo store.RunRepository) Option {
	return func(s *Server) {
		s.history = NewHistoryHandler(repo, s.logger)
	}
}

// WithFilesystem sets the filesystem used to list the source root.
func WithFilesystem(fsys afero.Fs) Option {
	return func(s *Server) {
		if fsys != nil {
			s.fs = fsys
		}
	}
}

// WithRemoteSource overrides how remote store settings are read.
func WithRemoteSource(fn func() config.RemoteStore) Option {
	return func(s *Server) {
		if fn != nil {
			s.remote = fn
		}
	}
}

// WithExcludeSource overrides how the exclude list is read for reporting.
func WithExcludeSource(fn func() string) Option {
	return func(s *Server) {
		if fn != nil {
			s.excludeList = fn
		}
	}
}

// WithReadyCheck registers a named readiness probe.
func WithReadyCheck(name string, check ReadyCheck) Option {
	return func(s *Server) {
		s.ready[name] = check
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg config.Config, engine SyncEngine, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:      engine,
		cfg:         cfg,
		fs:          afero.NewOsFs(),
		remote:      config.LoadRemoteStore,
		excludeList: config.ExcludeList,
		ready:       make(map[string]ReadyCheck),
		logger:      logger,
	}
	s.history = NewHistoryHandler(nil, logger)
	for _, opt := range opts {
		opt(s)
	}

	metrics.Init()
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware(cfg.Server.CORSOrigins))

	routes := func(r chi.Router) {
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			if cfg.Auth.Enabled {
				r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
			}
			r.Get("/s3config", s.s3Config)
			r.Get("/foldersize", s.folderSize)
			r.Get("/debug", s.debugScan)
			r.Route("/upload", func(r chi.Router) {
				r.Post("/", s.startUpload)
				r.Get("/progress", s.uploadProgress)
				r.Post("/cancel", s.cancelUpload)
				r.Get("/history", s.history.ListRuns)
				r.Get("/history/{run_id}", s.history.GetRun)
			})
		})
	}
	if cfg.Server.BasePath == "" {
		routes(r)
	} else {
		r.Route(cfg.Server.BasePath, routes)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := map[string]string{}
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
