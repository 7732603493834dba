/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/tasks         Task creation
  /api/units/*       Unit reads, milestones, payment retry
  /api/attendance/*  Attendance lifecycle
  /api/health        Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", h.CreateTask)

		r.Route("/units", func(r chi.Router) {
			r.Get("/", h.ListUnits)
			r.Get("/{id}", h.GetUnit)
			r.Get("/{id}/attempts", h.ListAttempts)
			r.Post("/{id}/milestones", h.SubmitMilestone)
			r.Post("/{id}/milestones/{percent}/approve", h.ApproveMilestone)
			r.Post("/{id}/milestones/{percent}/reject", h.RejectMilestone)
			r.Post("/{id}/payment/retry", h.RetryPayment)
		})

		r.Route("/attendance", func(r chi.Router) {
			r.Post("/clock-in", h.ClockIn)
			r.Post("/{id}/checkout", h.Checkout)
			r.Post("/{id}/approve", h.ApproveAttendance)
			r.Post("/{id}/missed-checkout", h.ResolveMissedCheckout)
		})

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	return r
}
