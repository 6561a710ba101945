package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/s3uploader/internal/config"
	"github.com/JakeFAU/s3uploader/internal/progress"
	"github.com/JakeFAU/s3uploader/internal/progress/sinks"
	"github.com/JakeFAU/s3uploader/internal/scan"
	"github.com/JakeFAU/s3uploader/internal/storage"
	"github.com/JakeFAU/s3uploader/internal/storage/memory"
	"github.com/JakeFAU/s3uploader/internal/syncer"
)

const testRoot = "/opt/app-root/src"

type fakeEngine struct {
	startErr  error
	cancelErr error
	started   []string
	progress  syncer.Progress
	stats     scan.Stats
	report    scan.Report
}

func (f *fakeEngine) Start(destination string) (syncer.Progress, error) {
	f.started = append(f.started, destination)
	if f.startErr != nil {
		return syncer.Progress{}, f.startErr
	}
	return syncer.Progress{Status: syncer.StatusRunning, RunID: "run-1"}, nil
}

func (f *fakeEngine) Cancel() error { return f.cancelErr }

func (f *fakeEngine) Snapshot() syncer.Progress { return f.progress }

func (f *fakeEngine) Scan() scan.Stats { return f.stats }

func (f *fakeEngine) Inspect() scan.Report { return f.report }

func (f *fakeEngine) Root() string { return testRoot }

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 5000, BasePath: "/s3uploader"},
		Storage: config.StorageConfig{Driver: config.DriverS3, PartSizeMB: 50},
	}
}

func newTestServer(engine SyncEngine, opts ...Option) *Server {
	base := []Option{
		WithFilesystem(afero.NewMemMapFs()),
		WithExcludeSource(func() string { return "" }),
		WithRemoteSource(func() config.RemoteStore { return config.RemoteStore{} }),
	}
	return NewServer(testConfig(), engine, zap.NewNop(), append(base, opts...)...)
}

func do(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec, body := do(t, newTestServer(&fakeEngine{}), http.MethodGet, "/s3uploader/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRoutesLiveUnderBasePath(t *testing.T) {
	t.Parallel()

	rec, _ := do(t, newTestServer(&fakeEngine{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadyzReportsFailingChecks(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeEngine{},
		WithReadyCheck("source", func(context.Context) error { return errors.New("source root missing") }))
	rec, body := do(t, srv, http.MethodGet, "/s3uploader/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, map[string]any{"source": "source root missing"}, body["checks"])

	rec, body = do(t, newTestServer(&fakeEngine{}), http.MethodGet, "/s3uploader/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeEngine{})
	do(t, srv, http.MethodGet, "/s3uploader/healthz", "")
	rec, _ := do(t, srv, http.MethodGet, "/s3uploader/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestStartUpload(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	rec, body := do(t, newTestServer(engine), http.MethodPost, "/s3uploader/upload", `{"subfolder":"models/v1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Upload started", body["message"])
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, []string{"models/v1"}, engine.started)
}

func TestStartUploadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		startErr error
		code     int
		message  string
	}{
		{name: "invalid json", body: "{", code: http.StatusBadRequest, message: "invalid JSON body"},
		{name: "root subfolder", body: `{"subfolder":"/"}`, startErr: syncer.ErrInvalidDestination,
			code: http.StatusBadRequest, message: `Subfolder cannot be empty or just "/"`},
		{name: "already running", body: `{"subfolder":"x"}`, startErr: syncer.ErrConflict,
			code: http.StatusConflict, message: "Upload is already in progress"},
		{name: "unexpected", body: `{"subfolder":"x"}`, startErr: errors.New("boom"),
			code: http.StatusInternalServerError, message: "boom"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, body := do(t, newTestServer(&fakeEngine{startErr: tt.startErr}), http.MethodPost, "/s3uploader/upload", tt.body)
			require.Equal(t, tt.code, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.message, body["error"])
		})
	}
}

func TestUploadProgress(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{progress: syncer.Progress{
		Status:         syncer.StatusRunning,
		CurrentFile:    "models/a.bin",
		FilesProcessed: 2,
		TotalFiles:     5,
		BytesUploaded:  20,
		TotalBytes:     50,
	}}
	rec, body := do(t, newTestServer(engine), http.MethodGet, "/s3uploader/upload/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	snapshot, ok := body["progress"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "running", snapshot["status"])
	assert.Equal(t, "models/a.bin", snapshot["current_file"])
	assert.InDelta(t, 2, snapshot["files_processed"], 0)
	assert.InDelta(t, 50, snapshot["total_bytes"], 0)
	assert.Equal(t, "", snapshot["error_message"])
}

func TestCancelUpload(t *testing.T) {
	t.Parallel()

	rec, body := do(t, newTestServer(&fakeEngine{}), http.MethodPost, "/s3uploader/upload/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Upload cancelled", body["message"])

	rec, body = do(t, newTestServer(&fakeEngine{cancelErr: syncer.ErrNothingToCancel}),
		http.MethodPost, "/s3uploader/upload/cancel", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No upload in progress", body["error"])
}

func TestS3Config(t *testing.T) {
	t.Parallel()

	complete := config.RemoteStore{
		Endpoint:  "https://s3.example.com",
		AccessKey: "AKIA",
		SecretKey: "shh",
		Bucket:    "models",
		Region:    "eu-west-1",
	}
	rec, body := do(t, newTestServer(&fakeEngine{}, WithRemoteSource(func() config.RemoteStore { return complete })),
		http.MethodGet, "/s3uploader/s3config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://s3.example.com", body["endpoint"])
	assert.Equal(t, "models", body["bucket"])
	assert.Equal(t, "eu-west-1", body["region"])
	assert.NotContains(t, rec.Body.String(), "shh")

	rec, body = do(t, newTestServer(&fakeEngine{}), http.MethodGet, "/s3uploader/s3config", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], config.EnvBucket)
}

func TestFolderSize(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll(filepath.Join(testRoot, "models"), 0o755))
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(testRoot, "main.py"), []byte("x"), 0o644))

	engine := &fakeEngine{stats: scan.Stats{Bytes: 1536, Files: 3}}
	srv := newTestServer(engine, WithFilesystem(fsys), WithExcludeSource(func() string { return "output" }))
	rec, body := do(t, srv, http.MethodGet, "/s3uploader/foldersize", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.InDelta(t, 1536, body["size_bytes"], 0)
	assert.Equal(t, "1.50 KB", body["size_formatted"])
	assert.InDelta(t, 3, body["file_count"], 0)
	assert.Equal(t, testRoot, body["folder_path"])
	debug, ok := body["debug"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, debug["folder_exists"])
	assert.Equal(t, "output", debug["exclude_env"])
	assert.Equal(t, []any{"models"}, debug["direct_subdirs"])
	assert.Equal(t, []any{"main.py"}, debug["direct_files"])
}

func TestFolderSizeMissingRoot(t *testing.T) {
	t.Parallel()

	rec, body := do(t, newTestServer(&fakeEngine{}), http.MethodGet, "/s3uploader/foldersize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0, body["size_bytes"], 0)
	assert.Equal(t, "0.00 B", body["size_formatted"])
	debug, ok := body["debug"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, debug["folder_exists"])
	assert.NotContains(t, debug, "direct_files")
}

func TestDebugScan(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{report: scan.Report{SourceFolder: testRoot}}
	rec, body := do(t, newTestServer(engine), http.MethodGet, "/s3uploader/debug", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["source_exists"])
	assert.Equal(t, "Source folder "+testRoot+" does not exist", body["error"])
}

func TestAPIKeyGuardsOperationsButNotHealthChecks(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	srv := NewServer(cfg, &fakeEngine{}, zap.NewNop())

	rec, _ := do(t, srv, http.MethodGet, "/s3uploader/upload/progress", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/s3uploader/upload/progress", nil)
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	srv.Handler().ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	rec, _ = do(t, srv, http.MethodGet, "/s3uploader/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeEngine{})
	req := httptest.NewRequest(http.MethodOptions, "/s3uploader/upload", nil)
	req.Header.Set("Origin", "https://workbench.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

// TestUploadLifecycle drives a real engine through the HTTP surface.
func TestUploadLifecycle(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	for name, content := range map[string]string{
		"a.txt":         "hello",
		"models/b.bin":  "0123456789",
		"user/skip.txt": "private",
	} {
		path := filepath.Join(testRoot, filepath.FromSlash(name))
		require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
	}
	blobs := memory.NewBlobStore()
	runs := memory.NewRunStore()
	hub := progress.NewHub(progress.Config{MaxBatchWait: 10 * time.Millisecond}, sinks.NewStoreSink(runs, nil))
	engine, err := syncer.New(syncer.Options{
		Fs:          fsys,
		Root:        testRoot,
		Opener:      storage.OpenerFunc(func(context.Context) (storage.BlobStore, error) { return blobs, nil }),
		ExcludeList: func() string { return "" },
		Emitter:     hub,
	})
	require.NoError(t, err)
	srv := newTestServer(engine, WithFilesystem(fsys), WithRunRepository(runs))

	rec, body := do(t, srv, http.MethodGet, "/s3uploader/foldersize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 2, body["file_count"], 0)
	assert.InDelta(t, 15, body["size_bytes"], 0)

	rec, _ = do(t, srv, http.MethodPost, "/s3uploader/upload", `{"subfolder":"/backup/"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Wait(ctx))

	rec, body = do(t, srv, http.MethodGet, "/s3uploader/upload/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot, ok := body["progress"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", snapshot["status"])
	assert.InDelta(t, 2, snapshot["files_processed"], 0)
	assert.InDelta(t, 15, snapshot["bytes_uploaded"], 0)
	assert.Equal(t, []string{"backup/a.txt", "backup/models/b.bin"}, blobs.Keys())

	rec, _ = do(t, srv, http.MethodPost, "/s3uploader/upload/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, hub.Close(ctx))
	rec, body = do(t, srv, http.MethodGet, "/s3uploader/upload/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history, ok := body["runs"].([]any)
	require.True(t, ok)
	require.Len(t, history, 1)
	run, ok := history[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", run["status"])
	assert.Equal(t, "backup", run["destination"])
	assert.InDelta(t, 2, run["files_processed"], 0)
	assert.InDelta(t, 15, run["bytes_uploaded"], 0)
}
