package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/s3uploader/internal/metrics"
	"github.com/JakeFAU/s3uploader/internal/scan"
	"github.com/JakeFAU/s3uploader/internal/syncer"
)

// Client-facing messages; the engine's sentinel errors map onto these.
const (
	msgInvalidSubfolder = `Subfolder cannot be empty or just "/"`
	msgUploadRunning    = "Upload is already in progress"
	msgNoUpload         = "No upload in progress"
	msgUploadStarted    = "Upload started"
	msgUploadCancelled  = "Upload cancelled"
)

type uploadRequest struct {
	Subfolder string `json:"subfolder"`
}

func (s *Server) startUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	started, err := s.engine.Start(req.Subfolder)
	switch {
	case errors.Is(err, syncer.ErrInvalidDestination):
		writeError(w, http.StatusBadRequest, msgInvalidSubfolder)
		return
	case errors.Is(err, syncer.ErrConflict):
		writeError(w, http.StatusConflict, msgUploadRunning)
		return
	case err != nil:
		s.logger.Error("start upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": msgUploadStarted,
		"run_id":  started.RunID,
	})
}

func (s *Server) uploadProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"progress": s.engine.Snapshot(),
	})
}

func (s *Server) cancelUpload(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Cancel(); err != nil {
		if errors.Is(err, syncer.ErrNothingToCancel) {
			writeError(w, http.StatusBadRequest, msgNoUpload)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msgUploadCancelled})
}

func (s *Server) s3Config(w http.ResponseWriter, _ *http.Request) {
	remote := s.remote()
	if err := remote.Validate(s.cfg.Storage.Driver); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"driver":   s.cfg.Storage.Driver,
		"endpoint": remote.Endpoint,
		"bucket":   remote.Bucket,
		"region":   remote.Region,
	})
}

type folderDebug struct {
	FolderExists   bool     `json:"folder_exists"`
	ExcludeEnv     string   `json:"exclude_env"`
	DirectSubdirs  []string `json:"direct_subdirs,omitempty"`
	DirectFiles    []string `json:"direct_files,omitempty"`
	ListingError   string   `json:"listing_error,omitempty"`
	ScanDurationMs int64    `json:"scan_duration_ms"`
}

type folderSizeResponse struct {
	Success       bool        `json:"success"`
	SizeBytes     int64       `json:"size_bytes"`
	SizeFormatted string      `json:"size_formatted"`
	FileCount     int64       `json:"file_count"`
	FolderPath    string      `json:"folder_path"`
	Debug         folderDebug `json:"debug"`
}

func (s *Server) folderSize(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	stats := s.engine.Scan()
	elapsed := time.Since(start)
	metrics.ObserveFolderScan(elapsed)

	root := s.engine.Root()
	debug := folderDebug{
		ExcludeEnv:     s.excludeList(),
		ScanDurationMs: elapsed.Milliseconds(),
	}
	if exists, _ := afero.DirExists(s.fs, root); exists {
		debug.FolderExists = true
		debug.DirectSubdirs, debug.DirectFiles, debug.ListingError = s.listRoot(root)
	}

	writeJSON(w, http.StatusOK, folderSizeResponse{
		Success:       true,
		SizeBytes:     stats.Bytes,
		SizeFormatted: FormatSize(stats.Bytes),
		FileCount:     stats.Files,
		FolderPath:    root,
		Debug:         debug,
	})
}

func (s *Server) listRoot(root string) (dirs, files []string, listingErr string) {
	entries, err := afero.ReadDir(s.fs, root)
	if err != nil {
		return nil, nil, err.Error()
	}
	dirs, files = []string{}, []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		} else {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)
	return dirs, files, ""
}

type debugResponse struct {
	scan.Report
	ExcludeEnv string `json:"exclude_env"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) debugScan(w http.ResponseWriter, _ *http.Request) {
	report := s.engine.Inspect()
	resp := debugResponse{Report: report, ExcludeEnv: s.excludeList()}
	if !report.SourceExists {
		resp.Error = fmt.Sprintf("Source folder %s does not exist", report.SourceFolder)
	}
	writeJSON(w, http.StatusOK, resp)
}
