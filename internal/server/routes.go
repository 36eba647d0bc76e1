package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures the 10-route session/message API surface.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Get("/", s.listSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Patch("/", s.updateSession)
			r.Delete("/", s.deleteSession)
			r.Post("/abort", s.abortSession)
			r.Post("/messages", s.sendMessage)
			r.Get("/messages", s.getMessages)
		})
	})

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
}
