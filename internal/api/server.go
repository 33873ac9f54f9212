// Package api exposes the operational HTTP surface during a scan:
// health, Prometheus metrics and scan progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zerolabs/zeroweb/internal/progress"
)

// Server is the optional status server started alongside a scan.
type Server struct {
	srv     *http.Server
	tracker *progress.Tracker
	logger  *zap.Logger
}

// New builds the status server. tracker may be nil; /progress then
// reports 404 until a scan is running.
func New(port int, tracker *progress.Tracker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{tracker: tracker, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/progress", s.handleProgress)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until Shutdown. Listen failures are logged, not fatal:
// the status surface is an optional companion to the scan.
func (s *Server) Start() {
	go func() {
		s.logger.Info("status server started", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", zap.Error(err))
		}
	}()
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	if s.tracker == nil {
		http.Error(w, "no scan in progress", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.tracker.Snapshot()); err != nil {
		s.logger.Warn("encode progress snapshot", zap.Error(err))
	}
}
