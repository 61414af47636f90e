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

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/metrics", s.handleMetrics)
			r.Get("/connections", s.handleListConnections)

			r.Route("/connections/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetConnection)
				r.Post("/connect", s.handleConnect)
				r.Post("/disconnect", s.handleDisconnect)

				r.Get("/subscriptions", s.handleListSubscriptions)
				r.Post("/subscriptions", s.handleSubscribe)
				r.Delete("/subscriptions", s.handleUnsubscribe)

				r.Post("/publish", s.handlePublish)

				r.Get("/history/subscribe", s.handleSubscribeHistory)
				r.Get("/history/publish", s.handlePublishHistory)

				r.Get("/events", s.handleEvents)
			})

			r.Get("/ws", s.handleWebSocket)
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
