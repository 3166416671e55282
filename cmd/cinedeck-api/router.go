// Package main provides the API router setup.
package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cinedeck/cinedeck/cmd/cinedeck-api/handlers"
	"github.com/cinedeck/cinedeck/cmd/cinedeck-api/middleware"
	"github.com/cinedeck/cinedeck/internal/artifact"
	"github.com/cinedeck/cinedeck/internal/config"
	"github.com/cinedeck/cinedeck/internal/observability"
	"github.com/cinedeck/cinedeck/internal/task"
	"github.com/cinedeck/cinedeck/internal/worker"
)

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, registry task.Registry, pool *worker.Pool, store *artifact.Store) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "healthy",
			"service": "cinedeck",
			"services": map[string]bool{
				"content":          cfg.Content.APIKey != "",
				"image_search":     cfg.ImageSearch.APIKey != "",
				"image_generation": cfg.ImageGen.URL != "",
			},
		})
	})

	deckHandler := handlers.NewDeckHandler(logger, registry, pool, store, cfg.Server.MaxUploadBytes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/decks", deckHandler.Generate)

		r.Route("/tasks/{taskId}", func(r chi.Router) {
			r.Get("/", deckHandler.Status)
			r.Post("/cancel", deckHandler.Cancel)
			r.Get("/artifact", deckHandler.Artifact)
		})
	})

	return r
}
