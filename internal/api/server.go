package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/weaver/internal/domain"
	"github.com/opensource-finance/weaver/internal/pacing"
	"github.com/opensource-finance/weaver/internal/planner"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, registry *planner.Registry, version string) *Server {
	pacer := pacing.NewLimiter(cache, cfg.PlanRateLimit, time.Minute)
	handler := NewHandler(repo, cache, bus, registry, pacer, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Plan generation
		r.Post("/plans", handler.GeneratePlan)

		// Calendar retrieval
		r.Get("/calendars/{year}/{month}", handler.GetCalendar)

		// Realized spend
		r.Post("/actuals", handler.RecordActual)

		// Anomaly scanning
		r.Post("/anomalies/scan", handler.ScanAnomalies)
		r.Get("/anomalies/{year}/{month}", handler.GetAnomalyReport)

		// Cohort classification
		r.Post("/cohort", handler.ClassifyCohort)

		// Plan config management
		r.Get("/configs", handler.ListConfigs)
		r.Get("/configs/{id}", handler.GetConfig)
		r.Post("/configs", handler.CreateConfig)
		r.Delete("/configs/{id}", handler.DeleteConfig)
		r.Post("/configs/reload", handler.ReloadConfigs)
	})

	return &Server{
		router:  router,
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
