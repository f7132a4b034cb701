package api

import (
	"net/http"

	"github.com/ethpandaops/grasshopper/pkg/tracker"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.instrument)
	r.Use(s.corsMiddleware())

	if s.cfg.Metrics.Enabled {
		r.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(
			s.registry, promhttp.HandlerOpts{},
		))
	}

	r.Route(tracker.APIPrefix, func(r chi.Router) {
		// Public endpoints.
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Auth,
				))
			}

			r.Post("/auth", s.handleAuth)
		})

		r.Route("/testrun", func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/", s.handleCreateTestRun)
			r.Get("/", s.handleListTestRuns)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(s.requireRunOwner)

				r.Get("/", s.handleGetRunStats)
				r.Post("/usage", s.handleRecordUsage)
				r.Get("/usage", s.handleListUsage)
				r.Post("/stop", s.handleStopTestRun)
				r.Get("/threshold", s.handleThreshold)
			})
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
