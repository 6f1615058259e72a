// Package transport provides the HTTP middleware that wraps every route of
// the server: panic recovery, request ids (X-Request-ID) and structured
// access logging via log/slog.
//
// Middleware compose with Chain; the first middleware is the outermost.
package transport
