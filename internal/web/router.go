// internal/web/router.go
//
// chi route table for the API surface.
package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yanizio/dbaudit/internal/middleware"
)

// Router builds the full handler chain: security headers, panic recovery,
// the JSON API, the Prometheus endpoint, and liveness.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Security)

	r.Route("/api", func(r chi.Router) {
		r.Route("/connections", func(r chi.Router) {
			r.Post("/", h.createConnection)
			r.Get("/", h.listConnections)
			r.Get("/{id}", h.getConnection)
			r.Delete("/{id}", h.deleteConnection)
		})
		r.Route("/audits", func(r chi.Router) {
			r.Post("/", h.createAudit)
			r.Get("/", h.listAudits)
			r.Get("/{id}", h.getAudit)
			r.Get("/{id}/status", h.getAuditStatus)
			r.Post("/{id}/fix", h.applyFixes)
			r.Post("/{id}/investigate", h.investigate)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
