package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/primitivefi/prime-engine/internal/domain"
	"github.com/primitivefi/prime-engine/internal/server/handler"
	"github.com/primitivefi/prime-engine/internal/server/middleware"
	"github.com/primitivefi/prime-engine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is requests per window per client IP. Zero disables limiting.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Nil entries leave their routes unregistered, so a server can expose only
// the surfaces its runtime mode actually runs.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Options  *handler.OptionHandler
	Pool     *handler.PoolHandler
	Exchange *handler.ExchangeHandler
	Audit    *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server for the options engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, logging, CORS, auth) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}

	// Runtime status.
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	// Option token lifecycle.
	if handlers.Options != nil {
		mux.HandleFunc("POST /api/options", handlers.Options.Mint)
		mux.HandleFunc("GET /api/options/nonce", handlers.Options.GetNonce)
		mux.HandleFunc("GET /api/options/{id}", handlers.Options.GetOption)
		mux.HandleFunc("GET /api/options/{id}/owner", handlers.Options.GetOwner)
		mux.HandleFunc("GET /api/options/{id}/claim", handlers.Options.GetClaim)
		mux.HandleFunc("POST /api/options/{id}/exercise", handlers.Options.Exercise)
		mux.HandleFunc("POST /api/options/{id}/close", handlers.Options.Close)
		mux.HandleFunc("POST /api/options/{id}/redeem", handlers.Options.Redeem)
		mux.HandleFunc("POST /api/options/{id}/transfer", handlers.Options.Transfer)
		mux.HandleFunc("GET /api/actors/{address}", handlers.Options.GetActor)
	}

	// Liquidity pool.
	if handlers.Pool != nil {
		mux.HandleFunc("POST /api/pool/deposit", handlers.Pool.Deposit)
		mux.HandleFunc("POST /api/pool/withdraw", handlers.Pool.Withdraw)
		mux.HandleFunc("POST /api/pool/buy", handlers.Pool.Buy)
		mux.HandleFunc("GET /api/pool/state", handlers.Pool.GetState)
		mux.HandleFunc("GET /api/pool/shares/{address}", handlers.Pool.GetShares)
	}

	// Order book.
	if handlers.Exchange != nil {
		mux.HandleFunc("POST /api/orders", handlers.Exchange.PlaceOrder)
		mux.HandleFunc("GET /api/orders/{id}", handlers.Exchange.GetOrders)
		mux.HandleFunc("DELETE /api/orders/{id}", handlers.Exchange.CancelOrder)
		mux.HandleFunc("GET /api/matches", handlers.Exchange.FindMatches)
		mux.HandleFunc("GET /api/book", handlers.Exchange.QuoteBook)
	}

	// Audit log.
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-IP rate limiting when a limiter is configured.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
