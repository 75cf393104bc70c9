package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/server/handler"
	"github.com/whetherfun/weathermark/internal/server/middleware"
	"github.com/whetherfun/weathermark/internal/server/ws"
)

// API-wide rate limit applied per client IP when a limiter is configured.
const (
	apiRateLimit  = 120
	apiRateWindow = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimiter domain.RateLimiter
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Reports   *handler.ReportHandler
	Disputes  *handler.DisputeHandler
	Markets   *handler.MarketHandler
	Positions *handler.PositionHandler
	Orders    *handler.OrderHandler
	Admin     *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the weather market.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Weather report endpoints.
	mux.HandleFunc("POST /api/reports", handlers.Reports.SubmitReport)
	mux.HandleFunc("GET /api/reports/{location}/{date}", handlers.Reports.GetReport)
	mux.HandleFunc("GET /api/reports/{location}/{date}/finalized", handlers.Reports.GetFinalized)
	mux.HandleFunc("GET /api/reports/{location}/{date}/dispute", handlers.Reports.GetReportDispute)

	// Dispute endpoints.
	mux.HandleFunc("POST /api/disputes", handlers.Disputes.OpenDispute)
	mux.HandleFunc("GET /api/disputes/stakes", handlers.Disputes.GetStakes)
	mux.HandleFunc("GET /api/disputes/{id}", handlers.Disputes.GetDispute)
	mux.HandleFunc("POST /api/disputes/{id}/escalate", handlers.Disputes.EscalateDispute)
	mux.HandleFunc("POST /api/disputes/{id}/votes", handlers.Disputes.CastVote)
	mux.HandleFunc("POST /api/disputes/{id}/resolve", handlers.Disputes.ResolveDispute)

	// Market lifecycle endpoints.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/stats", handlers.Markets.GetStats)
	mux.HandleFunc("POST /api/markets/{id}/activate", handlers.Markets.ActivateMarket)
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Markets.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/settle", handlers.Markets.SettleMarket)

	// Position endpoints.
	mux.HandleFunc("GET /api/markets/{id}/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Positions.ClaimWinnings)
	mux.HandleFunc("POST /api/markets/{id}/redeem", handlers.Positions.Redeem)
	mux.HandleFunc("GET /api/markets/{id}/redemption-value", handlers.Positions.GetRedemptionValue)
	mux.HandleFunc("POST /api/markets/{id}/transfer", handlers.Positions.TransferPosition)

	// Order book endpoints.
	mux.HandleFunc("POST /api/orders", handlers.Orders.PlaceOrder)
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.CancelOrder)
	mux.HandleFunc("GET /api/markets/{id}/book", handlers.Orders.GetBook)

	// Operator endpoints.
	mux.HandleFunc("POST /api/markets/{id}/pause", handlers.Admin.PauseMarket)
	mux.HandleFunc("POST /api/markets/{id}/unpause", handlers.Admin.UnpauseMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Admin.CancelMarket)
	mux.HandleFunc("POST /api/markets/{id}/flag-dispute", handlers.Admin.FlagDisputed)
	mux.HandleFunc("POST /api/admin/reporters", handlers.Admin.AddReporter)
	mux.HandleFunc("DELETE /api/admin/reporters/{address}", handlers.Admin.RemoveReporter)
	mux.HandleFunc("POST /api/admin/arbitrators", handlers.Admin.AddArbitrator)
	mux.HandleFunc("DELETE /api/admin/arbitrators/{address}", handlers.Admin.RemoveArbitrator)
	mux.HandleFunc("GET /api/arbitrators/{address}", handlers.Admin.GetArbitrator)
	mux.HandleFunc("GET /api/admin/treasury", handlers.Admin.GetTreasury)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	// Apply per-client rate limiting when a limiter is configured.
	if cfg.RateLimiter != nil {
		h = middleware.RateLimit(cfg.RateLimiter, apiRateLimit, apiRateWindow)(h)
	}

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
