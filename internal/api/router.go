package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(writeUnknownRoute)
	r.MethodNotAllowed(writeMethodNotAllowed)

	// Pairing transport
	r.Get(s.wsPath(), s.handleWebSocket)

	// Prometheus exposition
	if s.metricsCfg.Enabled && s.metricsHandler != nil {
		r.Handle(s.metricsCfg.Path, s.metricsHandler)
	}

	// API v1 routes (read-only operator surface)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/connections", s.handleListConnections)
		r.Get("/availability", s.handleAvailability)
	})

	return r
}

// wsPath returns the configured WebSocket path, defaulting to /ws.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
