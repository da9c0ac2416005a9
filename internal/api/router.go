// Package api assembles the HTTP router for the query-generation service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ossature/querygen/internal/api/handlers"
	"github.com/ossature/querygen/internal/api/middleware"
	"github.com/ossature/querygen/internal/dispatcher"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(svc *dispatcher.Service) http.Handler {
	h := handlers.New(svc)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", h.GenerateQuery)
		r.Get("/stats", h.UsageStats)
		r.Post("/cache/cleanup", h.CleanupCache)
	})

	return r
}
