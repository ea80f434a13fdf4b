/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/tenancies/*   Per-tenancy corrections, accruals and audit trail
  /api/accruals/*    Monthly accrual run
  /api/audit/*       Bulk consistency scan

SECURITY NOTE:
  No authentication middleware currently. The service is expected to sit
  behind the housing platform's gateway.

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
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/tenancies/{id}", func(r chi.Router) {
			r.Post("/corrections", h.CorrectTenancy)
			r.Get("/accruals", h.ListTenancyAccruals)
			r.Post("/accruals/lease-start", h.PostLeaseStart)
			r.Get("/audit-log", h.GetAuditLog)
		})

		r.Route("/accruals", func(r chi.Router) {
			r.Post("/run", h.RunAccruals)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/accruals", h.AuditAccruals)
		})
	})

	return r
}
