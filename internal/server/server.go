package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mevflow/auctiond/internal/domain"
	"github.com/mevflow/auctiond/internal/server/handler"
	"github.com/mevflow/auctiond/internal/server/middleware"
	"github.com/mevflow/auctiond/internal/server/ws"
)

// Config holds HTTP server settings.
type Config struct {
	Port        int
	APIKey      string
	CORSOrigins []string

	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers collects the route handlers wired into the server.
type Handlers struct {
	Health  *handler.HealthHandler
	Auction *handler.AuctionHandler
	Bid     *handler.BidHandler
	Reward  *handler.RewardHandler
	Hub     *ws.Hub
}

// Server is the HTTP/WebSocket API front end.
type Server struct {
	cfg    Config
	srv    *http.Server
	logger *slog.Logger
}

// New builds the server: routes, middleware chain, timeouts.
func New(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.Health)

	mux.HandleFunc("GET /api/auctions", h.Auction.List)
	mux.HandleFunc("GET /api/auctions/{id}", h.Auction.Get)
	mux.HandleFunc("POST /api/auctions/{id}/bids", h.Bid.Submit)
	mux.HandleFunc("POST /api/auctions/{id}/confidential-bids", h.Bid.SubmitConfidential)
	mux.HandleFunc("POST /api/auctions/{id}/reveal", h.Auction.RequestReveal)
	mux.HandleFunc("POST /api/auctions/{id}/winner", h.Auction.Reveal)
	mux.HandleFunc("POST /api/auctions/{id}/slash", h.Auction.Slash)

	mux.HandleFunc("GET /api/pools/{key}/auctions", h.Auction.ListByPool)
	mux.HandleFunc("PUT /api/pools/{key}/mode", h.Auction.SetMode)
	mux.HandleFunc("GET /api/pools/{key}/rewards", h.Reward.Pending)
	mux.HandleFunc("POST /api/pools/{key}/claim", h.Reward.Claim)
	mux.HandleFunc("POST /api/admin/recover", h.Reward.Recover)

	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	// Middleware chain, outermost first: logging, CORS, rate limiting, auth.
	var root http.Handler = mux
	root = middleware.Auth(cfg.APIKey)(root)
	if limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow)(root)
	}
	root = middleware.CORS(cfg.CORSOrigins)(root)
	root = middleware.Logging(logger)(root)

	return &Server{
		cfg: cfg,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start runs the server until it fails or Shutdown is called.
// http.ErrServerClosed is swallowed so a clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.srv.Shutdown(ctx)
}

