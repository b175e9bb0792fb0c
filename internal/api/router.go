package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(webhooks *WebhookHandler, events *EventHandler, adminAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// Provider-facing ingestion endpoints
	r.Post("/webhooks/{source}", webhooks.Receive)

	// Operator API
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Group(func(r chi.Router) {
			r.Use(apiKeyMiddleware(adminAPIKey))

			r.Route("/events", func(r chi.Router) {
				r.Get("/", events.List)
				r.Get("/{source}/{id}", events.Get)
				r.Post("/{source}/{id}/reprocess", events.Reprocess)
			})
		})
	})

	return r
}
