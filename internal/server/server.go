// Package server provides the HTTP API for Shashin.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/auth"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/ingest"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/storage"
)

// Server is the HTTP server for the Shashin API.
type Server struct {
	engine   *search.Engine
	pipeline *ingest.Pipeline
	storage  storage.Storage
	files    *storage.FileStore
	tokens   *auth.TokenManager
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	pipeline *ingest.Pipeline,
	store storage.Storage,
	files *storage.FileStore,
	tokens *auth.TokenManager,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:   engine,
		pipeline: pipeline,
		storage:  store,
		files:    files,
		tokens:   tokens,
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/auth/register", s.handleRegister)
	r.Post("/api/v1/auth/token", s.handleToken)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(s.tokens))
		r.Get("/api/v1/auth/me", s.handleMe)
		r.Post("/api/v1/images", s.handleUpload)
		r.Get("/api/v1/images/search", s.handleSearch)
		r.Get("/api/v1/images/history", s.handleHistory)
		r.Get("/api/v1/images/{id}", s.handleGetImage)
		r.Get("/api/v1/images/{id}/download", s.handleDownload)
		r.Delete("/api/v1/images/{id}", s.handleDeleteImage)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
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
