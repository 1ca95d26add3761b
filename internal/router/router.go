package router

import (
	"wholecell-mirror-api/internal/handler"
	"wholecell-mirror-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler          *handler.Handler
	InventoryHandler *handler.InventoryHandler
	SyncHandler      *handler.SyncHandler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		if cfg.InventoryHandler != nil {
			r.Route("/inventory", func(r chi.Router) {
				r.Get("/", cfg.InventoryHandler.List)
				r.Get("/{esn}", cfg.InventoryHandler.GetByESN)
			})
		}

		if cfg.SyncHandler != nil {
			r.Route("/sync", func(r chi.Router) {
				r.Get("/status", cfg.SyncHandler.Status)
				r.Get("/stats", cfg.SyncHandler.Stats)
				r.Get("/changes", cfg.SyncHandler.Changes)
				r.Post("/full", cfg.SyncHandler.ForceFullSync)
			})
			r.Delete("/cache", cfg.SyncHandler.ClearCache)
		}
	})

	return r
}
