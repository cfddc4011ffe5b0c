// Package server assembles the HTTP control API: registry CRUD, monitor
// control, stats and the WebSocket event stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pricewatch/internal/server/handler"
	"pricewatch/internal/server/middleware"
	"pricewatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
}

// Handlers aggregates the handlers the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Entities   *handler.EntityHandler
	Conditions *handler.ConditionHandler
	Monitor    *handler.MonitorHandler
	Stats      *handler.StatsHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wires the middleware chain
// (CORS -> logging -> auth -> mux).
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check, outside authentication.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Tracked entities.
	mux.HandleFunc("GET /api/entities", handlers.Entities.ListEntities)
	mux.HandleFunc("POST /api/entities", handlers.Entities.CreateEntity)
	mux.HandleFunc("GET /api/entities/{id}", handlers.Entities.GetEntity)
	mux.HandleFunc("DELETE /api/entities/{id}", handlers.Entities.DeleteEntity)

	// Alert conditions.
	mux.HandleFunc("GET /api/entities/{id}/conditions", handlers.Conditions.ListConditions)
	mux.HandleFunc("POST /api/entities/{id}/conditions", handlers.Conditions.CreateCondition)
	mux.HandleFunc("DELETE /api/conditions/{id}", handlers.Conditions.DeleteCondition)

	// Monitor control.
	if handlers.Monitor != nil {
		mux.HandleFunc("POST /api/monitor/start", handlers.Monitor.Start)
		mux.HandleFunc("POST /api/monitor/stop", handlers.Monitor.Stop)
		mux.HandleFunc("GET /api/monitor/status", handlers.Monitor.Status)
		mux.HandleFunc("POST /api/monitor/check", handlers.Monitor.Check)
	}

	// Aggregate stats.
	mux.HandleFunc("GET /api/stats", handlers.Stats.GetStats)

	// Event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
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
		logger:     logger,
	}
}

// Start listens and serves until an error or shutdown.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
