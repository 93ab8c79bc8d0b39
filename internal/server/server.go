// Package server exposes the engine's query API and event websocket over
// HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/server/handler"
	"github.com/alanyoungcy/levfarm/internal/server/middleware"
	"github.com/alanyoungcy/levfarm/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// PingLimit requests per PingWindow are allowed per client on the
	// ping trigger. Zero disables the limit.
	PingLimit  int
	PingWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Nil handlers
// leave their routes unregistered.
type Handlers struct {
	Health   *handler.HealthHandler
	Position *handler.PositionHandler
	Oracle   *handler.OracleHandler
	Quote    *handler.QuoteHandler
	Events   *handler.EventsHandler
	Archives *handler.ArchivesHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be
// nil, which leaves ping unthrottled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}

	if handlers.Position != nil {
		mux.HandleFunc("GET /api/position", handlers.Position.GetPosition)
		mux.HandleFunc("GET /api/position/balance", handlers.Position.GetBalance)
	}

	if handlers.Oracle != nil {
		mux.HandleFunc("GET /api/oracle/apy", handlers.Oracle.GetAPY)
		var ping http.Handler = http.HandlerFunc(handlers.Oracle.Ping)
		if limiter != nil && cfg.PingLimit > 0 {
			ping = middleware.RateLimit(limiter, "ping", cfg.PingLimit, cfg.PingWindow, logger)(ping)
		}
		mux.Handle("POST /api/oracle/ping", ping)
	}

	if handlers.Quote != nil {
		mux.HandleFunc("GET /api/quote", handlers.Quote.GetQuote)
	}

	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	}

	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
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
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.handler }

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
