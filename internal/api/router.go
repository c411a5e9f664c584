package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/modelbench/engine/internal/api/middleware"
	"github.com/modelbench/engine/internal/config"
)

// NewRouter builds the HTTP router for the read-only dashboard/drift API.
func NewRouter(cfg *config.Config, h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)

	origins := parseCORSOrigins()
	isWildcard := len(origins) == 1 && origins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Cache"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/dashboard", func(r chi.Router) {
		r.Get("/scores", h.DashboardScores)
		r.Get("/history/batch", h.DashboardHistoryBatch)
		r.Get("/history/{modelId}", h.DashboardHistory)
		r.Get("/status", h.DashboardStatus)
		r.Get("/batch-status", h.DashboardBatchStatus)
		r.Get("/best-model", h.DashboardBestModel)
		r.Get("/global-index", h.DashboardGlobalIndex)
	})

	r.Route("/drift", func(r chi.Router) {
		r.Get("/signature/{modelId}", h.DriftSignature)
		r.Get("/change-points/{modelId}", h.DriftChangePoints)
		r.Get("/status", h.DriftStatus)
		r.Get("/batch", h.DriftBatch)
		r.Get("/health", h.DriftHealth)
		r.Get("/metrics", h.DriftMetrics)
		r.Post("/precompute", h.DriftPrecompute)
	})

	return r
}

func parseCORSOrigins() []string {
	raw := os.Getenv("ENGINE_CORS_ORIGINS")
	if raw == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
