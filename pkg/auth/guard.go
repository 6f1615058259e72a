package auth

import (
	"context"
	"log/slog"
	"net/http"
)

// Guard wraps a strategy so that a panic inside it is logged and turned
// into nil instead of unwinding into the request pipeline.
func Guard(s Strategy, logger *slog.Logger) Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &guarded{inner: s, logger: logger}
}

type guarded struct {
	inner  Strategy
	logger *slog.Logger
}

func (g *guarded) Name() string { return NameOf(g.inner) }

func (g *guarded) Resolve(ctx context.Context, r *http.Request) (user *User) {
	defer func() {
		if p := recover(); p != nil {
			g.logger.ErrorContext(ctx, "principal resolution panicked", "strategy", g.Name(), "panic", p)
			user = nil
		}
	}()
	return g.inner.Resolve(ctx, r)
}

func (g *guarded) ResolveAsync(ctx context.Context, r *http.Request) (ch <-chan *User) {
	defer func() {
		if p := recover(); p != nil {
			g.logger.ErrorContext(ctx, "principal resolution panicked", "strategy", g.Name(), "panic", p)
			none := make(chan *User, 1)
			none <- nil
			ch = none
		}
	}()
	if _, ok := g.inner.(AsyncStrategy); ok {
		return ResolveAsync(ctx, g.inner, r)
	}
	return Go(g.logger, func() *User { return g.Resolve(ctx, r) })
}
