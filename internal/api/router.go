package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// No auth required
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/status", s.handleStatus)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Post("/refresh", s.handleRefreshDevice)
					r.Get("/channels", s.handleListChannels)
					r.Post("/channels/{channel}", s.handleChannelCommand)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
