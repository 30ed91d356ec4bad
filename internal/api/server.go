// Package api serves the agent's local status surface: /healthz for
// operators and /metrics for Prometheus scrapes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatcher is the status surface the dispatch loop exposes.
type Dispatcher interface {
	QueueDepths() (data, ping int)
	DropCounts() (data, ping int64)
	WorkerCount() int
}

// Config holds status server configuration.
type Config struct {
	Listen string
}

// HealthzResponse is the GET /healthz body.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Workers        int    `json:"workers"`
	DataQueueDepth int    `json:"data_queue_depth"`
	PingQueueDepth int    `json:"ping_queue_depth"`
	DroppedEvents  int64  `json:"dropped_events"`
	DroppedPings   int64  `json:"dropped_pings"`
}

// Server represents the status HTTP server.
type Server struct {
	config     Config
	dispatcher Dispatcher
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a status server instance.
func New(config Config, dispatcher Dispatcher, logger *slog.Logger) *Server {
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start starts the HTTP server (blocking until ctx is cancelled).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("status server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("status server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dataDepth, pingDepth := s.dispatcher.QueueDepths()
	dropped, pingDropped := s.dispatcher.DropCounts()

	resp := HealthzResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		Workers:        s.dispatcher.WorkerCount(),
		DataQueueDepth: dataDepth,
		PingQueueDepth: pingDepth,
		DroppedEvents:  dropped,
		DroppedPings:   pingDropped,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
