package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-cell/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// WebSocket authenticates with ?token= because browsers cannot set
		// headers on the upgrade request.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/nodes", func(r chi.Router) {
				r.Use(requirePermission(auth.PermNodeRead))
				r.Get("/", s.handleListNodes)
				r.Get("/{id}", s.handleGetNode)
			})

			r.Route("/methods", func(r chi.Router) {
				r.With(requirePermission(auth.PermNodeRead)).Get("/", s.handleListMethods)
				r.With(requirePermission(auth.PermMethodInvoke)).Post("/{name}", s.handleInvokeMethod)
			})

			r.Route("/control", func(r chi.Router) {
				r.With(requirePermission(auth.PermControlRead)).Get("/state", s.handleControlState)
				r.With(requirePermission(auth.PermControlOperate)).Post("/move", s.handleControlMove)
			})

			r.With(requirePermission(auth.PermEventRead)).Get("/events", s.handleListEvents)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.health != nil {
		for k, v := range s.health() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}
