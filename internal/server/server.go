// Package server provides the HTTP API for Krishna.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/CrambitHazard/Krishna/internal/config"
	"github.com/CrambitHazard/Krishna/internal/embedding"
	"github.com/CrambitHazard/Krishna/internal/ingest"
	"github.com/CrambitHazard/Krishna/internal/retrieval"
	"github.com/CrambitHazard/Krishna/internal/storage"
	"github.com/CrambitHazard/Krishna/internal/vector"
)

// Server is the HTTP server exposing ingestion, retrieval, and progress APIs.
type Server struct {
	pipeline *ingest.Pipeline
	planner  *retrieval.Planner
	engine   *embedding.Engine
	index    *vector.Store
	store    storage.Store
	cfg      *config.Config
	logger   *zap.Logger
	httpSrv  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	pipeline *ingest.Pipeline,
	planner *retrieval.Planner,
	engine *embedding.Engine,
	index *vector.Store,
	store storage.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		pipeline: pipeline,
		planner:  planner,
		engine:   engine,
		index:    index,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Router builds the chi router. Exposed separately so tests can drive the
// handlers without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleUploadDocument)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Post("/search", s.handleSearch)
		r.Post("/retrieve", s.handleRetrieve)
		r.Get("/quiz/progress", s.handleQuizProgress)
		r.Post("/quiz/attempts", s.handleSaveQuizAttempt)
		r.Get("/quiz/attempts", s.handleListQuizAttempts)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}
