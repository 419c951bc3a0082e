package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/classifier-control-plane/app"
	"github.com/upb/classifier-control-plane/handlers"
	"github.com/upb/classifier-control-plane/internal/observability"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware. No global timeout: training uploads can take minutes.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	if deps.Config.Observability.MetricsEnabled {
		r.Use(observability.MetricsMiddleware)
		r.Handle("/metrics", promhttp.Handler())
	}

	// Health check endpoints
	var health *handlers.HealthHandler
	if deps.DB != nil {
		health = handlers.NewHealthHandler(deps.DB.DB, deps.Logger)
	} else {
		health = handlers.NewHealthHandler(nil, deps.Logger)
	}
	for name, check := range deps.HealthChecks {
		health.WithCheck(name, check)
	}
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	classifiers := handlers.NewClassifierHandler(deps.Lifecycle, deps.Logger)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects/{projectID}/models", func(r chi.Router) {
			r.Post("/", classifiers.HandleCreate)
			r.Get("/", classifiers.HandleList)
			r.Delete("/{modelID}", classifiers.HandleDelete)
		})

		r.Post("/admin/cleanup", classifiers.HandleCleanup)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
