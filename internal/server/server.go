package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/predsync/internal/domain"
	"github.com/alanyoungcy/predsync/internal/server/handler"
	"github.com/alanyoungcy/predsync/internal/server/middleware"
	"github.com/alanyoungcy/predsync/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // empty disables authentication
	RateLimit       int    // requests per client per RateLimitWindow; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Sync        *handler.SyncHandler
	Predictions *handler.PredictionHandler
	Portfolio   *handler.PortfolioHandler
}

// Deps are optional server collaborators.
type Deps struct {
	Hub      *ws.Hub              // nil disables /ws
	Limiter  domain.RateLimiter   // nil disables rate limiting
	Registry *prometheus.Registry // nil disables /metrics
}

// Server is the HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

var publicPaths = []string{"/api/health", "/metrics"}

// NewServer registers every route and wraps the mux in the middleware chain
// (rate limit, auth, logging, CORS from innermost to outermost).
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, deps, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      3 * time.Minute, // reconcile may wait for a receipt
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/stakes", handlers.Sync.PlaceStake)
	mux.HandleFunc("POST /api/predictions/{id}/resolve", handlers.Sync.Resolve)
	mux.HandleFunc("POST /api/predictions/{id}/cancel", handlers.Sync.Cancel)
	mux.HandleFunc("POST /api/predictions/{id}/approve", handlers.Sync.Approve)
	mux.HandleFunc("POST /api/predictions/{id}/reject", handlers.Sync.Reject)
	mux.HandleFunc("POST /api/reconcile", handlers.Sync.Reconcile)
	mux.HandleFunc("POST /api/resync", handlers.Sync.Resync)
	mux.HandleFunc("GET /api/sync/pending", handlers.Sync.ListPending)
	mux.HandleFunc("GET /api/sync/{tx}/audit", handlers.Sync.AuditTrail)
	mux.HandleFunc("GET /api/audit", handlers.Sync.ListAudit)

	mux.HandleFunc("GET /api/predictions/{id}", handlers.Predictions.GetPrediction)
	mux.HandleFunc("GET /api/predictions/{id}/quote", handlers.Predictions.Quote)

	mux.HandleFunc("GET /api/portfolio/{address}", handlers.Portfolio.GetPortfolio)
	mux.HandleFunc("GET /api/portfolio/{address}/history", handlers.Portfolio.GetHistory)

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}
	if deps.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{Registry: deps.Registry}))
	}

	var h http.Handler = mux
	h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateLimitWindow, logger, publicPaths...)(h)
	h = middleware.Auth(cfg.APIKey, publicPaths...)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
