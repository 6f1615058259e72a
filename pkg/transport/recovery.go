package transport

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery returns middleware that catches panics in the handler and
// converts them to a 500 JSON error. The server continues to accept new
// requests after a panic is recovered.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.ErrorContext(r.Context(), "handler panicked",
					"request_id", RequestIDFromContext(r.Context()),
					"path", r.URL.Path,
					"panic", p,
					"stack", string(debug.Stack()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":{"type":"server_error","message":"internal server error"}}`))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
