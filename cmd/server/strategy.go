package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rhuss/principal/pkg/auth"
	"github.com/rhuss/principal/pkg/auth/credential"
	"github.com/rhuss/principal/pkg/auth/local"
	"github.com/rhuss/principal/pkg/auth/remote"
	"github.com/rhuss/principal/pkg/auth/session"
	"github.com/rhuss/principal/pkg/config"
	"github.com/rhuss/principal/pkg/ratelimit"
	"github.com/rhuss/principal/pkg/sessionstore/cookie"
	redisstore "github.com/rhuss/principal/pkg/sessionstore/redis"
	"github.com/rhuss/principal/pkg/truststore"
	"github.com/rhuss/principal/pkg/truststore/cached"
	"github.com/rhuss/principal/pkg/truststore/memory"
	"github.com/rhuss/principal/pkg/truststore/postgres"
)

// deps holds the process-owned collaborators shared by the strategies.
type deps struct {
	client  *http.Client
	logger  *slog.Logger
	closers []func() error
	checks  map[string]func(context.Context) error
}

func newDeps(logger *slog.Logger) *deps {
	return &deps{
		client: &http.Client{},
		logger: logger,
		checks: make(map[string]func(context.Context) error),
	}
}

// close releases everything registered with onClose, in reverse order.
func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("closing dependency", "error", err)
		}
	}
	d.client.CloseIdleConnections()
}

func (d *deps) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// buildStrategy selects the resolution strategy named by auth.strategy.
// The result is guarded so that a panicking strategy yields no user.
func buildStrategy(ctx context.Context, cfg *config.Config, d *deps) (auth.Strategy, error) {
	var s auth.Strategy

	switch cfg.Auth.Strategy {
	case session.Name:
		status, err := buildSessionStore(ctx, cfg.Auth.Session, d)
		if err != nil {
			return nil, err
		}
		s = session.New(status, d.logger)

	case local.Name:
		store, err := buildTrustStore(ctx, cfg.Auth.Local, d)
		if err != nil {
			return nil, err
		}
		s = local.New(buildSource(cfg.Auth.Credentials), store, d.logger)

	case remote.Name:
		r, err := remote.New(remote.Config{
			CheckTokenURL:    cfg.Auth.Remote.CheckTokenURL,
			Timeout:          cfg.Auth.Remote.Timeout,
			MaxResponseBytes: cfg.Auth.Remote.MaxResponseBytes,
			HTTPClient:       d.client,
			Logger:           d.logger,
		}, buildSource(cfg.Auth.Credentials))
		if err != nil {
			return nil, err
		}
		s = r

	default:
		return nil, fmt.Errorf("unknown auth strategy %q", cfg.Auth.Strategy)
	}

	slog.Info("auth strategy configured", "strategy", auth.NameOf(s))
	return auth.Guard(s, d.logger), nil
}

func buildSource(cfg config.CredentialsConfig) credential.Source {
	header := credential.HeaderSource{
		TokenHeader:    cfg.TokenHeader,
		ClientIDHeader: cfg.ClientIDHeader,
	}
	cookies := credential.CookieSource{
		TokenCookie:    cfg.TokenCookie,
		ClientIDCookie: cfg.ClientIDCookie,
	}

	switch cfg.Source {
	case "cookie":
		return cookies
	case "header+cookie":
		return credential.Chain(header, cookies)
	default:
		return header
	}
}

func buildSessionStore(ctx context.Context, cfg config.SessionConfig, d *deps) (session.LoginStatus, error) {
	switch cfg.Store {
	case "cookie":
		store, err := cookie.New(cookie.Config{
			Secret:     []byte(cfg.Cookie.Secret),
			CookieName: cfg.Cookie.Name,
			Issuer:     cfg.Cookie.Issuer,
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	case "redis":
		store, err := redisstore.New(ctx, redisstore.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			CookieName: cfg.Redis.CookieName,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		d.onClose(store.Close)
		d.checks["session_store"] = store.HealthCheck
		return store, nil

	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

func buildTrustStore(ctx context.Context, cfg config.LocalConfig, d *deps) (truststore.Store, error) {
	var store truststore.Store

	switch cfg.Store {
	case "memory":
		mem := memory.New()
		for _, tok := range cfg.Tokens {
			mem.Add(tok.ClientID, tok.Token, trustedUser(tok), tok.ExpiresAt)
		}
		slog.Info("trust store enabled", "type", "memory", "tokens", len(cfg.Tokens))
		store = mem

	case "postgres":
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("creating postgres trust store: %w", err)
		}
		d.onClose(pg.Close)
		d.checks["trust_store"] = pg.HealthCheck

		for _, tok := range cfg.Tokens {
			if err := pg.Add(ctx, tok.ClientID, tok.Token, trustedUser(tok), tok.ExpiresAt); err != nil {
				return nil, fmt.Errorf("seeding trusted token for %s: %w", tok.ClientID, err)
			}
		}
		slog.Info("trust store enabled", "type", "postgres", "seeded", len(cfg.Tokens))
		store = pg

	default:
		return nil, fmt.Errorf("unknown trust store %q", cfg.Store)
	}

	if cfg.Cache.Enabled {
		store = cached.New(store, cfg.Cache.Size, cfg.Cache.TTL)
		slog.Info("trust store cache enabled", "size", cfg.Cache.Size, "ttl", cfg.Cache.TTL)
	}
	return store, nil
}

func trustedUser(tok config.TrustedTokenConfig) auth.User {
	return auth.User{ID: tok.UserID, Attributes: tok.Attributes}
}

func buildLimiter(ctx context.Context, cfg config.RateLimitConfig, d *deps) (auth.RateLimiter, error) {
	tiers := make(map[string]auth.TierConfig, len(cfg.Tiers))
	for name, rpm := range cfg.Tiers {
		tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
	}

	switch cfg.Backend {
	case "", "none":
		return nil, nil

	case "memory":
		return auth.NewInProcessLimiter(tiers, cfg.DefaultRPM), nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connecting to rate limit redis: %w", err)
		}
		d.onClose(client.Close)
		d.checks["rate_limit"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		limiter, err := ratelimit.NewRedisLimiter(client, tiers, cfg.DefaultRPM, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return limiter, nil

	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}
