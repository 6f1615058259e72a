package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/principal/pkg/debug"
	"github.com/rhuss/principal/pkg/observability"
)

// MiddlewareConfig controls how the middleware treats unresolved requests.
type MiddlewareConfig struct {
	// Required rejects requests that resolve to no user with 401.
	// When false, they continue without a user in the context.
	Required bool

	// BypassEndpoints skip resolution entirely.
	BypassEndpoints []string

	// Limiter applies per-user rate limits after resolution. Optional.
	Limiter RateLimiter
}

// Middleware creates HTTP middleware that resolves the caller once per
// request with the given strategy and stores the user in the context.
func Middleware(strategy Strategy, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(cfg.BypassEndpoints))
	for _, ep := range cfg.BypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			user := strategy.Resolve(r.Context(), r)
			debug.Log("auth", "request resolved",
				"path", r.URL.Path,
				"strategy", NameOf(strategy),
				"authenticated", user != nil,
			)

			if user == nil {
				if cfg.Required {
					slog.Debug("unauthenticated request rejected",
						"path", r.URL.Path,
						"remote_addr", r.RemoteAddr,
					)
					writeError(w, http.StatusUnauthorized, "invalid_request", "authentication required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if cfg.Limiter != nil {
				err := cfg.Limiter.Allow(r.Context(), user)
				if err != nil && !errors.Is(err, ErrTooManyRequests) {
					slog.Error("rate limiter failed", "user_id", user.ID, "error", err)
					writeError(w, http.StatusServiceUnavailable, "server_error", "rate limiter unavailable")
					return
				}
				if err != nil {
					slog.Warn("rate limit exceeded",
						"user_id", user.ID,
						"tier", TierOf(user),
					)
					observability.RateLimitRejectedTotal.WithLabelValues(TierOf(user)).Inc()
					writeError(w, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(SetUser(r.Context(), user)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, typ, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":{"type":"` + typ + `","message":"` + message + `"}}`))
}

// DefaultBypassEndpoints lists endpoints that skip resolution.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}
