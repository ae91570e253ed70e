package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the global middleware chain and all routes.
// Middleware order matters: Recoverer outermost, then timeout, request
// ID, request logging. Cron auth applies only to the job group.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.Config.Server.RequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Route("/v1/jobs", func(r chi.Router) {
		r.Use(s.CronAuthMiddleware)
		r.Post("/reminders/drain", s.HandleDrainReminders)
		r.Post("/auto-sync", s.HandleAutoSync)
	})

	s.router.Get("/health", s.HandleHealth)
}

// ContextTimeoutMiddleware sets a deadline on the request context so a
// hung job pass cannot hold the connection forever. The configured value
// should exceed the longest expected drain pass.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandleDrainReminders runs one reminder-queue drain pass and returns
// its counters. Internal failure returns the 500 envelope without a
// partial summary.
func (s *Server) HandleDrainReminders(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Drain.Drain(r.Context(), time.Now().UTC())
	if err != nil {
		s.Logger.ErrorContext(r.Context(), "drain pass failed", "error", err)
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: summary})
}

// HandleAutoSync runs one auto-sync orchestration pass and returns its
// counters.
func (s *Server) HandleAutoSync(w http.ResponseWriter, r *http.Request) {
	summary, err := s.AutoSync.Run(r.Context(), time.Now().UTC(), s.Config.Sync.BatchLimit)
	if err != nil {
		s.Logger.ErrorContext(r.Context(), "auto-sync pass failed", "error", err)
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: summary})
}
