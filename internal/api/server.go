package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/complaints"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/eligibility"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/retrieval"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, index domain.SimilarityIndex, engine *retrieval.Engine, flagEngine *fraud.FlagEngine, scorer *fraud.Scorer, router *complaints.Router, validator *eligibility.Validator, ingester *ingest.Service, version string) *Server {
	handler := NewHandler(repo, cache, bus, index, engine, flagEngine, scorer, router, validator, ingester, version)
	mux := chi.NewRouter()

	// Global middleware stack
	mux.Use(CORSMiddleware)         // CORS for browser clients
	mux.Use(RecoverMiddleware)      // Recover from panics
	mux.Use(TracingMiddleware)      // OpenTelemetry tracing
	mux.Use(LoggingMiddleware)      // Request logging
	mux.Use(middleware.RealIP)      // Extract real IP
	mux.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	mux.Get("/health", handler.Health)
	mux.Get("/ready", handler.Ready)

	// Retrieval
	mux.Post("/query", handler.Query)
	mux.Post("/query/batch", handler.BatchQuery)
	mux.Post("/grounding/check", handler.CheckGrounding)

	// Fraud scoring: synchronous scoring plus async bus ingestion
	mux.Post("/fraud/score", handler.ScoreTransaction)
	mux.Post("/transactions", handler.SubmitTransaction)

	// Complaint routing
	mux.Post("/complaints/route", handler.RouteComplaint)
	mux.Post("/complaints", handler.SubmitComplaint)
	mux.Get("/complaints/{id}", handler.GetComplaint)

	// Product eligibility
	mux.Post("/eligibility/validate", handler.ValidateEligibility)

	// Knowledge base management
	mux.Post("/documents", handler.IngestDocument)
	mux.Get("/documents", handler.ListDocuments)
	mux.Get("/documents/{id}", handler.GetDocument)
	mux.Delete("/documents/{id}", handler.DeleteDocument)

	// Decision audit log
	mux.Get("/decisions", handler.ListDecisions)
	mux.Get("/decisions/{id}", handler.GetDecision)

	return &Server{
		router:  mux,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
