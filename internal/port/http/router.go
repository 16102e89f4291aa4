package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/refulearn/cache-service/internal/platform/logger"
	"github.com/refulearn/cache-service/internal/platform/metrics"
)

type RouterConfig struct {
	JWTSecret string
	AdminRole string
}

func NewRouter(h *Handler, cfg RouterConfig, log logger.Logger, m *metrics.MetricsManager) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(log.Named("http"), m))

	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(JWTAuth(cfg.JWTSecret, log))

		r.Get("/datasets", h.HandleListDatasets)
		r.Get("/datasets/{name}", h.HandleGetDataset)
		r.Post("/sync-queue", h.HandleEnqueueSync)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireRole(cfg.AdminRole))

			r.Get("/cache/status", h.HandleCacheStatus)
			r.Post("/cache/clear", h.HandleClearAll)
			r.Delete("/cache/namespace/{prefix}", h.HandleClearNamespace)
			r.Post("/cache/clear-user-data", h.HandleClearUserData)
			r.Post("/sync-queue/process", h.HandleProcessSyncQueue)
		})
	})

	return r
}
