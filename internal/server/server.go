// Package server provides the HTTP API for wembed.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/wembed/internal/config"
	"github.com/hyperjump/wembed/internal/runner"
	"github.com/hyperjump/wembed/internal/storage"
	"github.com/hyperjump/wembed/internal/watcher"
)

// Server is the HTTP server for the wembed API.
type Server struct {
	runner     *runner.Runner
	store      storage.Store
	config     *config.Config
	configPath string
	configMu   sync.Mutex
	watch      *watcher.Watcher
	logger     *zap.Logger
	server     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWatcher exposes the watched directories under /api/v1/watch.
// When configPath is set, directory changes are saved back to it.
func WithWatcher(w *watcher.Watcher, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// NewServer creates a server over the runner's store.
func NewServer(r *runner.Runner, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: r,
		store:  r.Store(),
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.config.Debug {
		r.Use(middleware.Logger)
	}

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(middleware.Compress(5))
			r.Get("/status", s.handleStatus)
			r.Get("/files", s.handleListFiles)
			r.Get("/files/{id}", s.handleGetFile)
			r.Get("/documents/{id}", s.handleGetDocument)
			r.Get("/watch/directories", s.handleWatchDirectoriesList)
			r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
			r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
		})
		r.Post("/runs", s.handleRun)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
