// Package api provides the HTTP surface of the coloring page service.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/coloring-service/internal/logging"
	"github.com/coloring-service/internal/models"
	"github.com/coloring-service/internal/ratelimit"
)

// Service interfaces for dependency injection and testing

// GenerationServiceInterface accepts generation submissions.
type GenerationServiceInterface interface {
	Submit(ctx context.Context, userID string, params models.JobParams) (*models.Job, bool, error)
}

// StatusServiceInterface answers job status reads.
type StatusServiceInterface interface {
	GetJob(ctx context.Context, userID string, jobID uuid.UUID) (*models.JobView, error)
	ListJobs(ctx context.Context, userID string, limit, offset int) ([]*models.JobView, error)
	DownloadURL(ctx context.Context, userID string, jobID uuid.UUID, kind models.AssetKind) (string, error)
}

// ChainServiceInterface resolves edit version chains.
type ChainServiceInterface interface {
	Resolve(ctx context.Context, userID string, jobID uuid.UUID) (*models.ChainView, error)
}

// UploadServiceInterface registers source images.
type UploadServiceInterface interface {
	Register(ctx context.Context, userID, contentType string, body io.Reader) (*models.SourceAsset, error)
}

// CreditServiceInterface exposes the ledger.
type CreditServiceInterface interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Events(ctx context.Context, userID string, limit, offset int) ([]*models.CreditEvent, error)
	Purchase(ctx context.Context, userID string, amount int64, paymentRef string) (int64, error)
}

// Pinger reports reachability of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	JWTSecret       string
}

// Server is the HTTP API server.
type Server struct {
	router          *mux.Router
	handler         http.Handler
	httpServer      *http.Server
	generation      GenerationServiceInterface
	status          StatusServiceInterface
	chains          ChainServiceInterface
	credits         CreditServiceInterface
	uploads         UploadServiceInterface
	generateLimiter *ratelimit.Limiter
	uploadLimiter   *ratelimit.Limiter
	postgres        Pinger
	redis           Pinger
	config          *ServerConfig
	logger          *logging.Logger
}

// NewServer creates an API server with its routes configured.
func NewServer(
	config *ServerConfig,
	generation GenerationServiceInterface,
	status StatusServiceInterface,
	chains ChainServiceInterface,
	credits CreditServiceInterface,
	uploads UploadServiceInterface,
	generateLimiter *ratelimit.Limiter,
	uploadLimiter *ratelimit.Limiter,
	postgres Pinger,
	redis Pinger,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		generation:      generation,
		status:          status,
		chains:          chains,
		credits:         credits,
		uploads:         uploads,
		generateLimiter: generateLimiter,
		uploadLimiter:   uploadLimiter,
		postgres:        postgres,
		redis:           redis,
		config:          config,
		logger:          logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures middleware and routes. CORS wraps the router
// itself so preflight requests are answered without a matching route;
// auth runs before the per-user rate limit.
func (s *Server) setupRouter() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(AuthMiddleware(s.config.JWTSecret))

	// Job submission carries the strictest limit; reads are unlimited.
	submit := api.PathPrefix("/jobs").Methods("POST").Subrouter()
	submit.Use(RateLimitMiddleware(s.generateLimiter))
	submit.HandleFunc("", s.handleSubmitJob).Methods("POST")

	upload := api.PathPrefix("/uploads").Methods("POST").Subrouter()
	upload.Use(RateLimitMiddleware(s.uploadLimiter))
	upload.HandleFunc("", s.handleUpload).Methods("POST")

	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/versions", s.handleGetVersions).Methods("GET")
	api.HandleFunc("/jobs/{id}/assets/{kind}", s.handleDownloadAsset).Methods("GET")

	api.HandleFunc("/credits", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/credits/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/credits/purchase", s.handlePurchase).Methods("POST")

	s.handler = LoggingMiddleware(s.logger)(RecoveryMiddleware(s.logger)(CORSMiddleware(s.router)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// Handler exposes the full middleware stack, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handleHealth reports the service and the reachability of its stores.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"postgres": "ok", "redis": "ok"}
	healthy := true
	if s.postgres != nil {
		if err := s.postgres.Ping(ctx); err != nil {
			checks["postgres"] = "unreachable"
			healthy = false
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			checks["redis"] = "unreachable"
			healthy = false
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	respondJSON(w, status, map[string]interface{}{
		"status":  state,
		"service": "coloring-service",
		"checks":  checks,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
