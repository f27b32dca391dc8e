// Package web provides the HTTP surface of the ingestion service: the
// ingest endpoint, deployment creation, and health checks. All responses
// are JSON; there is no HTML UI.
package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/treelab/sapflow/internal/config"
	"github.com/treelab/sapflow/internal/ingest"
	"github.com/treelab/sapflow/internal/pipeline"
	"github.com/treelab/sapflow/internal/web/middleware"
)

// Ingestor runs one ingest transaction. Satisfied by *ingest.Engine.
type Ingestor interface {
	Execute(ctx context.Context, files []ingest.Input, user, message string, dryRun bool) (*ingest.Receipt, error)
}

// Store is the slice of the relational store the HTTP handlers need.
// Satisfied by *store.PG.
type Store interface {
	Ping(ctx context.Context) error
	RawFileData(ctx context.Context, hash string) ([]byte, error)
	CreateDeployment(ctx context.Context, iv pipeline.Interval) error
}

// Server is the HTTP server for the ingestion service.
type Server struct {
	engine Ingestor
	db     Store
	cfg    *config.Config
	router *chi.Mux
	server *http.Server
}

// NewServer wires the router, middleware and handlers.
func NewServer(engine Ingestor, db Store, cfg *config.Config) *Server {
	s := &Server{
		engine: engine,
		db:     db,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/deployments", s.handleCreateDeployment)
		r.Get("/raw/{hash}", s.handleRawFile)
	})
}

// Start begins listening for HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests. In-flight ingest commits
// are atomic: they either finish or roll back, never half-land.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}
