// Package core provides the HTTP chassis for the BillWatch job trigger
// surface. It wires a chi router with the cross-cutting middleware
// (recovery, request IDs, structured request logging, cron-secret auth)
// in front of the job handlers, and serves the health endpoint for the
// platform's probes.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"billwatch/internal/config"
	"billwatch/internal/scheduler"
)

// DrainRunner triggers one reminder-queue drain pass.
type DrainRunner interface {
	Drain(ctx context.Context, now time.Time) (scheduler.DrainSummary, error)
}

// SyncRunner triggers one auto-sync orchestration pass.
type SyncRunner interface {
	Run(ctx context.Context, now time.Time, limit int) (scheduler.SyncSummary, error)
}

// Server holds the dependencies of the trigger API. Fields are exported
// so tests can construct a Server with fakes.
type Server struct {
	Config   *config.Config
	Logger   *slog.Logger
	Drain    DrainRunner
	AutoSync SyncRunner

	// HealthProbes are checked by GET /health. Typically one database
	// probe.
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares the router.
// The caller mounts routes afterwards; the split keeps tests free to
// register only what they exercise.
func NewServer(cfg *config.Config, logger *slog.Logger, drain DrainRunner, autoSync SyncRunner) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:   cfg,
		Logger:   logger,
		Drain:    drain,
		AutoSync: autoSync,
		router:   chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
