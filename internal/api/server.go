// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/review-reconciler/internal/backfill"
	"github.com/review-reconciler/internal/logging"
	"github.com/review-reconciler/internal/models"
	"github.com/review-reconciler/internal/types"
)

// Service interfaces for dependency injection and testing

// LinkingServiceInterface defines the interface for reconciliation operations
type LinkingServiceInterface interface {
	HandleChatOpened(ctx context.Context, ev types.ChatOpened) (*models.ReviewChatLink, bool, error)
	HandleAnchorFound(ctx context.Context, ev types.AnchorFound) (*models.ReviewChatLink, error)
	HandleAnchorNotFound(ctx context.Context, ev types.AnchorNotFound) (*models.ReviewChatLink, error)
	HandleMessageOutcome(ctx context.Context, ev types.MessageOutcome) (*models.ReviewChatLink, error)
	HandleError(ctx context.Context, ev types.ErrorReported) (*models.ReviewChatLink, error)
	Reset(ctx context.Context, linkID string) (*models.ReviewChatLink, error)
	GetLink(ctx context.Context, linkID string) (*models.ReviewChatLink, error)
}

// BackfillQueueInterface defines the interface for backfill job operations
type BackfillQueueInterface interface {
	CreateJob(ctx context.Context, input backfill.CreateJobInput) (*models.BackfillJob, error)
	GetJob(ctx context.Context, jobID string) (*models.BackfillJob, error)
	CancelJob(ctx context.Context, jobID string) (*models.BackfillJob, error)
	ListJobs(ctx context.Context, status types.JobStatus, limit int) ([]*models.BackfillJob, error)
}

// WorkerRunner triggers an on-demand backfill worker pass
type WorkerRunner interface {
	Run(ctx context.Context, maxJobs int) (int, error)
}

// LimitServiceInterface defines the interface for daily limit administration
type LimitServiceInterface interface {
	Usage(ctx context.Context, storeID string) (used, limit int, err error)
	SetStoreLimit(ctx context.Context, storeID string, limit int) error
}

// AuditReader reads back the agent event trail for diagnostics
type AuditReader interface {
	RecentByStore(ctx context.Context, storeID string, limit int) ([]*models.AgentEventRecord, error)
}

// Server represents the HTTP API server.
type Server struct {
	router   *mux.Router
	httpSrv  *http.Server
	linking  LinkingServiceInterface
	backfill BackfillQueueInterface
	worker   WorkerRunner
	limits   LimitServiceInterface
	audit    AuditReader
	config   *ServerConfig
	logger   *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AgentRPS        int // Requests per second allowed per agent
	Burst           int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	linking LinkingServiceInterface,
	backfillQueue BackfillQueueInterface,
	worker WorkerRunner,
	limits LimitServiceInterface,
	audit AuditReader,
) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		linking:  linking,
		backfill: backfillQueue,
		worker:   worker,
		limits:   limits,
		audit:    audit,
		config:   config,
		logger:   logging.GetGlobalLogger(),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.AgentRPS, s.config.Burst)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Agent event endpoints
	api.HandleFunc("/agent/chats", s.handleChatOpened).Methods("POST")
	api.HandleFunc("/agent/chats/{id}/anchor", s.handleAnchor).Methods("POST")
	api.HandleFunc("/agent/chats/{id}/message", s.handleMessageOutcome).Methods("POST")
	api.HandleFunc("/agent/chats/{id}/error", s.handleAgentError).Methods("POST")

	// Link endpoints
	api.HandleFunc("/links/{id}", s.handleGetLink).Methods("GET")
	api.HandleFunc("/links/{id}/reset", s.handleResetLink).Methods("POST")

	// Backfill job endpoints
	api.HandleFunc("/backfill/jobs", s.handleCreateJob).Methods("POST")
	api.HandleFunc("/backfill/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/backfill/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/backfill/jobs/{id}", s.handleCancelJob).Methods("DELETE")

	// Daily limit endpoints
	api.HandleFunc("/limits/{storeId}", s.handleGetLimitUsage).Methods("GET")
	api.HandleFunc("/limits/{storeId}", s.handleSetStoreLimit).Methods("PUT")

	// Admin endpoints
	api.HandleFunc("/admin/worker/run", s.handleRunWorker).Methods("POST")
	api.HandleFunc("/admin/audit/{storeId}/events", s.handleRecentEvents).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "review-reconciler",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpSrv.Addr).Info("starting API server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the configured router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
