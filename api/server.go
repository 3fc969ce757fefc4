/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for admin frontends

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

	r.Route("/api", func(r chi.Router) {
		// Accounts and the ledger
		r.Post("/accounts", h.CreateAccount)
		r.Route("/sponsors/{sid}/drivers/{uid}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.GetTransactions)
			r.Post("/transactions", h.RecordTransaction)
		})

		// Purchases
		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", h.CreatePurchase)
			r.Get("/{id}", h.GetPurchase)
			r.Post("/{id}/cancel", h.CancelPurchase)
			r.Post("/{id}/refund", h.RefundPurchase)
		})

		// Admin
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reconcile", h.Reconcile)
		})

		// Reporting and audit
		r.Get("/reports/sponsors/{sid}/summary", h.SponsorSummary)
		r.Get("/audit", h.QueryAudit)
	})

	return r
}
