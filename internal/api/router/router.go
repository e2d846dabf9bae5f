package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cabinethq/scheduling-platform/internal/http/handlers"
	httpmiddleware "github.com/cabinethq/scheduling-platform/internal/http/middleware"
	"github.com/cabinethq/scheduling-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	AppointmentsHandler *handlers.AppointmentsHandler
	ScheduleHandler     *handlers.ScheduleHandler
	MetricsHandler      http.Handler
	AuthSecret          string
	CORSAllowedOrigins  []string
	RateLimitPerSecond  float64
	RateLimitBurst      int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RateLimitPerSecond > 0 {
		r.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	}

	// Public endpoints (health checks, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Tenant API (protected by JWT; the token pins the tenant)
	r.Group(func(api chi.Router) {
		api.Use(httpmiddleware.TenantJWT(cfg.AuthSecret))

		if cfg.AppointmentsHandler != nil {
			api.Route("/appointments", func(r chi.Router) {
				r.Post("/", cfg.AppointmentsHandler.Create)
				r.Route("/{appointmentID}", func(r chi.Router) {
					r.Get("/", cfg.AppointmentsHandler.Get)
					r.Post("/reschedule", cfg.AppointmentsHandler.Reschedule)
					r.Post("/cancel", cfg.AppointmentsHandler.Cancel)
					r.Post("/confirm", cfg.AppointmentsHandler.Confirm)
				})
			})
		}
		if cfg.ScheduleHandler != nil {
			api.Route("/schedule/{practitionerID}", func(r chi.Router) {
				r.Get("/", cfg.ScheduleHandler.GetSchedule)
				r.Get("/availability", cfg.ScheduleHandler.CheckAvailability)
			})
		}
	})

	return r
}
