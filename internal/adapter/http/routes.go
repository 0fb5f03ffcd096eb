package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. stream
// serves the WebSocket endpoint and is mounted outside the JSON group.
func MountRoutes(r chi.Router, h *Handlers, stream http.Handler) {
	r.Get("/health", h.Health)
	r.Handle("/ws", stream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Post("/advice", h.RequestAdvice)
		r.Get("/advice/{correlation_id}", h.GetAdvice)
		r.Get("/trace/{correlation_id}", h.GetTrace)

		r.Get("/actions", h.ListPendingActions)
		r.Post("/actions/authorize", h.AuthorizeAction)
	})
}
