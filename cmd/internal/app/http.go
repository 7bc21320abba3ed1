package app

import (
	"context"
	"net/http"
	"time"

	authapi "gatekeeper/cmd/internal/auth/api"

	"github.com/prometheus/client_golang/prometheus"
)

type pinger interface {
	Ping(ctx context.Context, timeout time.Duration) error
}

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	db pinger,
	reg *prometheus.Registry,
	auth *authapi.Handler,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if err := db.Ping(r.Context(), 2*time.Second); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			log.Info("readyz.db.not_ready", "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if reg != nil {
		mux.Handle("GET /metrics", metricsHandler(reg))
	}

	if auth != nil {
		auth.Register(mux)
	}
}
