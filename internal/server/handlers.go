package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/wembed/internal/config"
	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/runner"
	"github.com/hyperjump/wembed/internal/storage"
)

const maxListLimit = 1000

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("status: stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"backend": s.store.Backend(),
		"stats":   stats,
	}
	if res, ok := s.store.(*storage.Resolver); ok {
		resp["fell_back"] = res.FellBack()
	}
	if bytes, err := storage.LocalFootprint(s.config.Storage.LocalPath); err == nil {
		resp["disk_usage_bytes"] = bytes
	}
	resp["config"] = map[string]interface{}{
		"local_path":         s.config.Storage.LocalPath,
		"remote_configured":  s.config.Storage.RemoteDSN != "",
		"content_ceiling":    s.config.Process.ContentCeiling,
		"chunk_size":         s.config.Documents.ChunkSize,
		"chunk_overlap":      s.config.Documents.Overlap(),
		"reuse":              s.config.Documents.ReuseEnabled(),
		"embedding_provider": s.config.Embedding.Provider,
		"embedding_dims":     s.config.Embedding.Dimensions,
	}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.FileRecordFilter{
		Path:         q.Get("path"),
		EligibleOnly: q.Get("eligible") == "true",
		LatestOnly:   q.Get("latest") == "true",
		Limit:        100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxListLimit)
	}
	if v := q.Get("status"); v != "" {
		statuses, err := models.ParseStatuses(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Statuses = statuses
	}
	recs, err := s.store.ListFileRecords(r.Context(), filter)
	if err != nil {
		s.logger.Error("list files failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*models.FileRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"files": recs, "count": len(recs)})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetFileRecordByID(r.Context(), chi.URLParam(r, "id"))
	if storage.IsNotFound(err) {
		s.respondError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{"file": rec}
	if doc, err := s.store.LiveDocument(r.Context(), rec.ID); err == nil {
		resp["document_id"] = doc.ID
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type documentResponse struct {
	Document *models.DocumentRecord `json:"document"`
	Chunks   []*models.ChunkRecord  `json:"chunks"`
	Complete bool                   `json:"complete"`
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := s.store.GetDocument(ctx, chi.URLParam(r, "id"))
	if storage.IsNotFound(err) {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Aliases serve the chunks of the document they reuse.
	chunkDoc := doc.ID
	if doc.ReuseOf != "" {
		chunkDoc = doc.ReuseOf
	}
	chunks, err := s.store.ListChunks(ctx, chunkDoc)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chunks == nil {
		chunks = []*models.ChunkRecord{}
	}
	s.respondJSON(w, http.StatusOK, documentResponse{
		Document: doc,
		Chunks:   chunks,
		Complete: doc.Stage != models.StageFailed && models.DocumentComplete(chunks),
	})
}

type runRequest struct {
	models.SourceDescriptor
	Force         bool `json:"force"`
	SkipDocuments bool `json:"skip_documents"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	src := runner.WithScanDefaults(req.SourceDescriptor, s.config)
	if err := src.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("run request", zap.String("kind", string(src.Kind)), zap.String("root", src.Root), zap.Int("paths", len(src.Paths)))
	res, err := s.runner.TryRun(r.Context(), src, runner.Options{Force: req.Force, SkipDocuments: req.SkipDocuments})
	if errors.Is(err, runner.ErrBusy) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("run failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusBadRequest
		}
		s.respondError(w, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := req.Sync == nil || *req.Sync
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
