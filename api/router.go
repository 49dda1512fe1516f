package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mriscale/api/handlers"
	"mriscale/api/middleware"
)

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(h *handlers.JobHandler, health http.HandlerFunc, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.TraceID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))

	r.Get("/health", health)

	// Everything below requires a principal from the auth gateway.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Principal)

		r.Post("/api/preprocess/upload", h.Upload)
		r.Post("/api/infer", h.Infer)

		r.Get("/api/jobs", h.List)
		r.Get("/api/jobs/{jobID}", h.Get)
		r.Get("/api/jobs/{jobID}/status", h.Status)
		r.Delete("/api/jobs/{jobID}", h.Delete)
		r.Post("/api/jobs/{jobID}/trigger", h.Trigger)
	})

	return r
}
