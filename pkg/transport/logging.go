package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhuss/principal/pkg/auth"
)

// Logging returns middleware that emits one structured log entry per
// request with method, path, status, duration, request id and, when the
// caller was resolved, the user id. 5xx responses are logged at error
// level, everything else at info.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			// The auth middleware runs inside; it reports the user back
			// through this holder.
			holder := &userHolder{}
			r = r.WithContext(withUserHolder(r.Context(), holder))

			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
			}
			if holder.user != nil {
				attrs = append(attrs, slog.String("user_id", holder.user.ID))
			}

			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "request completed", attrs...)
		})
	}
}

// CaptureUser records the resolved user for Logging. It must run inside
// the auth middleware.
func CaptureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := userHolderFrom(r.Context()); h != nil {
			h.user = auth.UserFromContext(r.Context())
		}
		next.ServeHTTP(w, r)
	})
}

type userHolder struct {
	user *auth.User
}

type userHolderKeyType struct{}

var userHolderKey = userHolderKeyType{}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderKey, h)
}

func userHolderFrom(ctx context.Context) *userHolder {
	h, _ := ctx.Value(userHolderKey).(*userHolder)
	return h
}
