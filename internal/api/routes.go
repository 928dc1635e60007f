package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Read endpoints (public, consumed by the display UI)
	r.Get("/status", s.HandleStatus)
	r.Get("/weight", s.HandleWeight)
	r.Get("/nodes", s.HandleListNodes)
	r.Get("/live", s.HandleLive)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/control", func(r chi.Router) {
			r.Post("/connect", s.HandleConnect)
			r.Post("/disconnect", s.HandleDisconnect)
			r.Post("/tare", s.HandleTare)
			r.Post("/tare/reset", s.HandleResetTare)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", s.HandleListEvents)
		})
	})
}
