// Package httpapi assembles the HTTP routes and middleware.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"scenegen/internal/httpapi/handlers"
	"scenegen/internal/httpkit"
	"scenegen/internal/pkg/logger"
	"scenegen/internal/pkg/metrics"
	"scenegen/internal/pkg/middleware"
)

type Deps struct {
	Handlers handlers.Deps
	Log      *logger.Logger
	Metrics  *metrics.Metrics
	// Limiter guards POST /api/generate; nil disables rate limiting.
	Limiter            middleware.Limiter
	CORSAllowedOrigins []string
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.CORSAllowedOrigins,
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}
	h := handlers.New(d.Handlers)

	r.Get("/", h.Home)
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(middleware.RateLimit(d.Limiter, log))
			}
			r.Post("/generate", h.Generate)
		})
		r.Get("/videos/{id}", h.Video)
	})

	return r
}
