package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/principal/pkg/auth"
	"github.com/rhuss/principal/pkg/config"
	"github.com/rhuss/principal/pkg/observability"
	"github.com/rhuss/principal/pkg/transport"
)

// newHandler wires the strategy, middleware and routes.
func newHandler(ctx context.Context, cfg *config.Config, d *deps) (http.Handler, error) {
	strategy, err := buildStrategy(ctx, cfg, d)
	if err != nil {
		return nil, err
	}
	limiter, err := buildLimiter(ctx, cfg.RateLimit, d)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/whoami", handleWhoami)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", readyHandler(d.checks))

	bypass := append([]string(nil), auth.DefaultBypassEndpoints...)
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
		bypass = append(bypass, cfg.Observability.Metrics.Path)
	}

	authMW := auth.Middleware(strategy, auth.MiddlewareConfig{
		Required:        cfg.Auth.Required,
		BypassEndpoints: bypass,
		Limiter:         limiter,
	})
	return transport.Chain(
		transport.Recovery(d.logger),
		transport.RequestID(),
		transport.Logging(d.logger),
		observability.MetricsMiddleware,
		authMW,
		transport.CaptureUser,
	)(mux), nil
}

// handleWhoami returns the resolved user, or 401 for anonymous requests
// that the middleware let through.
func handleWhoami(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]string{"type": "invalid_request", "message": "authentication required"},
		})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// readyHandler pings every registered backing store.
func readyHandler(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := make(map[string]string)
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
