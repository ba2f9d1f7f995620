package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Service        AppointmentService
	Logger         zerolog.Logger
	Checks         []HealthCheck
	Env            string
	Version        string
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h := NewHandler(cfg.Service, cfg.Logger)
	r.Group(func(r chi.Router) {
		r.Use(TracingMiddleware)
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		r.Get("/doctors/{doctorID}/slots", h.GetSlots)

		r.Post("/appointments", h.CreateAppointment)
		r.Get("/appointments", h.ListAppointments)
		r.Get("/appointments/{id}", h.GetAppointment)
		r.Post("/appointments/{id}/confirm", h.ConfirmAppointment)
		r.Post("/appointments/{id}/cancel", h.CancelAppointment)
		r.Post("/appointments/{id}/complete", h.CompleteAppointment)
		r.Post("/appointments/{id}/no-show", h.MarkNoShow)
	})

	return r
}
