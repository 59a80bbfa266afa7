package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the API, the live streams and, when webDir is set, the
// static files.
func NewRouter(h *EventHandler, webDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger)
	r.Use(CORS)

	r.Get("/health", HealthCheck)

	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Delete("/{id}", h.DeleteEvent)
		r.Post("/{id}/signups", h.AddSignup)
		r.Delete("/{id}/signups", h.RemoveSignup)
		r.Get("/{id}/stream", h.Stream)
		r.Get("/{id}/ws", h.WebSocket)
	})

	if webDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(webDir)))
	}
	return r
}
