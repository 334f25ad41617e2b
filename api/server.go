/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through the service logger
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counter and histogram
  5. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/projects/*      Projects and inventory corrections
  /api/applicants/*    Applicant records and applicant-side workflow
  /api/applications/*  Staff-side workflow
  /api/scenarios/*     Demo data
  /metrics             Prometheus scrape endpoint
  /health              Liveness

SECURITY NOTE:
  No authentication middleware. Staff and applicant identity is asserted
  by the caller; put this service behind an authenticating gateway.

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
	"github.com/warp/housing-engine/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, m *metrics.Metrics, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: h.Log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(m.InstrumentHandler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", m.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Project routes
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Post("/", h.CreateProject)
			r.Get("/{id}", h.GetProject)
			r.Post("/{id}/inventory/{flatType}/release", h.ReleaseUnit)
		})

		// Applicant routes
		r.Route("/applicants", func(r chi.Router) {
			r.Post("/", h.CreateApplicant)
			r.Get("/{nric}", h.GetApplicant)
			r.Get("/{nric}/projects", h.ListVisibleProjects)
			r.Get("/{nric}/applications", h.ListApplicantApplications)
			r.Post("/{nric}/applications", h.SubmitApplication)
			r.Post("/{nric}/applications/{id}/withdraw", h.WithdrawApplication)
		})

		// Staff workflow routes
		r.Route("/applications", func(r chi.Router) {
			r.Get("/{id}", h.GetApplication)
			r.Get("/{id}/receipt", h.GetReceipt)
			r.Post("/{id}/approve", h.ApproveApplication)
			r.Post("/{id}/reject", h.RejectApplication)
			r.Post("/{id}/book", h.BookApplication)
			r.Post("/{id}/withdrawal/approve", h.ApproveWithdrawal)
			r.Post("/{id}/withdrawal/reject", h.RejectWithdrawal)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
