/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the results frontend

ROUTE GROUPS:
  /api/tally-sheets/*   Sheets, versions, workflow, tree, reports
  /api/templates/*      Template catalog

SECURITY NOTE:
  Lock/unlock authorization happens in the engine via the Authorizer; the
  acting user is taken from the X-Actor header. Put real authentication in
  front of this service before exposing it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/tally-sheets", func(r chi.Router) {
			r.Post("/", h.CreateTallySheet)
			r.Get("/{id}", h.GetTallySheet)

			// Versions
			r.Post("/{id}/versions", h.CreateVersion)
			r.Post("/{id}/versions/empty", h.CreateEmptyVersion)
			r.Get("/{id}/versions/{versionId}", h.GetVersion)
			r.Get("/{id}/versions/{versionId}/html", h.RenderVersion)
			r.Get("/{id}/versions/{versionId}/letter", h.RenderVersionLetter)

			// Workflow transitions
			r.Put("/{id}/latest", h.SetLatest)
			r.Put("/{id}/submit", h.Submit)
			r.Put("/{id}/lock", h.Lock)
			r.Put("/{id}/unlock", h.Unlock)
			r.Put("/{id}/notify", h.Notify)
			r.Put("/{id}/release", h.Release)
			r.Post("/{id}/proofs", h.AttachProof)

			// Aggregation tree
			r.Get("/{id}/children", h.ListChildren)
			r.Post("/{id}/children", h.AddChild)

			// Reports
			r.Get("/{id}/status-report", h.GetStatusReport)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", h.CreateTemplates)
			r.Get("/{code}", h.GetTemplate)
		})
	})

	return r
}
