package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// readinessProbe reports whether the durable store is reachable. nil means no durable store.
type readinessProbe func(ctx context.Context) error

func newRouter(log Logger, cfg Config, ready readinessProbe, metrics *Metrics, api http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && ready == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	if api != nil {
		r.Mount("/v1", api)
	}

	var h http.Handler = r
	h = WithSecurityHeaders(h)
	h = WithCORS(h, cfg)
	return WithRequestLogging(h, log, metrics)
}
