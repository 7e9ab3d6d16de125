package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sayuricruzv/project-YeyosFitness/internal/auth"
	"github.com/sayuricruzv/project-YeyosFitness/internal/metrics"
)

// RouterConfig carries what NewRouter needs besides the handlers.
type RouterConfig struct {
	Verifier    *auth.Verifier
	Limiter     *RateLimiter // nil disables rate limiting
	CORSOrigins []string
	Probes      []func(r *http.Request) error
}

// NewRouter builds the HTTP API.
func NewRouter(h *ClassHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger)                  // structured access log + metrics
	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	r.Get("/health", HealthCheck(cfg.Probes...))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware)
		}
		r.Use(Authenticate(cfg.Verifier))

		r.Route("/classes", func(r chi.Router) {
			r.Get("/", h.ListClasses)
			r.With(RequireAdmin).Post("/", h.PublishClass)
			r.Get("/{id}", h.GetClass)
			r.Post("/{id}/reservations", h.Reserve)
			r.Post("/{id}/waitlist", h.JoinWaitlist)
			r.Delete("/{id}/waitlist", h.LeaveWaitlist)
			r.With(RequireAdmin).Post("/{id}/waitlist/promote", h.PromoteWaitlist)
			r.With(RequireAdmin).Get("/{id}/roster", h.ClassRoster)
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/cancel", h.CancelReservation)
			r.Get("/{id}/qr", h.CheckInQR)
			r.With(RequireAdmin).Post("/{id}/attendance", h.MarkAttendance)
		})

		r.Route("/me", func(r chi.Router) {
			r.Get("/reservations", h.ListMyReservations)
			r.Get("/waitlist", h.ListMyWaitlist)
		})

		r.With(RequireAdmin).Post("/checkin", h.CheckIn)
	})

	return r
}
