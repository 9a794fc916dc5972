// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/logging"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/service"
	"github.com/mls-sync/internal/types"
)

// SyncAPI defines the sync service operations exposed over HTTP
type SyncAPI interface {
	Sources() []string
	TriggerSync(ctx context.Context, source string, mode types.SyncMode) (*service.SyncResult, error)
	GetSyncHistory(ctx context.Context, filter models.SyncHistoryFilter, page models.Pagination) (*service.Page[*models.SyncHistory], error)
	TestConnection(ctx context.Context, source string) (bool, error)
	GetListing(ctx context.Context, source, key string) (*models.Listing, error)
	ListListings(ctx context.Context, source string, status types.LifecycleStatus, page models.Pagination) (*service.Page[*models.Listing], error)
	GetAgent(ctx context.Context, source, key string) (*models.Agent, error)
	ListAgents(ctx context.Context, source string, page models.Pagination) (*service.Page[*models.Agent], error)
}

// HealthCheck probes one backing dependency for GET /health
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	sync       SyncAPI
	checks     []HealthCheck
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond float64 // per client; zero disables limiting
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, syncService SyncAPI, logger *logging.Logger, checks ...HealthCheck) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router: mux.NewRouter(),
		sync:   syncService,
		checks: checks,
		logger: logger,
		config: config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// logging wraps recovery so panics still get a request log line
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Route not found", nil)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, ErrCodeInvalidInput, "Method not allowed", nil)
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/sources", s.handleListSources).Methods("GET")
	api.HandleFunc("/sources/{source}/sync", s.handleTriggerSync).Methods("POST")
	api.HandleFunc("/sources/{source}/connection", s.handleTestConnection).Methods("GET")
	api.HandleFunc("/sync-history", s.handleSyncHistory).Methods("GET")

	api.HandleFunc("/sources/{source}/listings", s.handleListListings).Methods("GET")
	api.HandleFunc("/sources/{source}/listings/{key}", s.handleGetListing).Methods("GET")
	api.HandleFunc("/sources/{source}/agents", s.handleListAgents).Methods("GET")
	api.HandleFunc("/sources/{source}/agents/{key}", s.handleGetAgent).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	var failures []*types.ServiceError
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			logging.FromContext(ctx).WithError(err).WithField("dependency", c.Name).Warn("[API] Health check failed")
			deps[c.Name] = "unavailable"
			failures = append(failures, apperrors.NewServiceUnavailableError(c.Name).ToServiceError())
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[c.Name] = "ok"
	}

	body := map[string]interface{}{
		"status":       status,
		"service":      "mls-sync",
		"dependencies": deps,
	}
	if len(failures) > 0 {
		body["errors"] = failures
	}
	respondJSON(w, code, body)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("[API] Starting server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("[API] Shutting down server")
	return s.httpServer.Shutdown(ctx)
}
