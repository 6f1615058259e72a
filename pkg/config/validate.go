package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Auth.Credentials.Source {
	case "header", "cookie", "header+cookie":
	default:
		errs = append(errs, fmt.Errorf("auth.credentials.source must be \"header\", \"cookie\" or \"header+cookie\", got %q", c.Auth.Credentials.Source))
	}

	switch c.Auth.Strategy {
	case "session":
		errs = append(errs, c.Auth.Session.validate()...)
	case "local":
		errs = append(errs, c.Auth.Local.validate()...)
	case "remote":
		errs = append(errs, c.Auth.Remote.validate()...)
	default:
		errs = append(errs, fmt.Errorf("auth.strategy must be \"session\", \"local\" or \"remote\", got %q", c.Auth.Strategy))
	}

	switch c.RateLimit.Backend {
	case "none", "memory":
	case "redis":
		if c.RateLimit.Redis.Addr == "" {
			errs = append(errs, errors.New("rate_limit.redis.addr is required when rate_limit.backend is \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend must be \"none\", \"memory\" or \"redis\", got %q", c.RateLimit.Backend))
	}

	return errors.Join(errs...)
}

func (s SessionConfig) validate() []error {
	var errs []error
	switch s.Store {
	case "cookie":
		if len(s.Cookie.Secret) < 32 {
			errs = append(errs, errors.New("auth.session.cookie.secret (or secret_file) must be at least 32 bytes"))
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, errors.New("auth.session.redis.addr is required when auth.session.store is \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.session.store must be \"cookie\" or \"redis\", got %q", s.Store))
	}
	return errs
}

func (l LocalConfig) validate() []error {
	var errs []error
	switch l.Store {
	case "memory":
		for i, tok := range l.Tokens {
			if tok.ClientID == "" || tok.Token == "" || tok.UserID == "" {
				errs = append(errs, fmt.Errorf("auth.local.tokens[%d]: client_id, token and user_id are required", i))
			}
		}
	case "postgres":
		if l.Postgres.DSN == "" {
			errs = append(errs, errors.New("auth.local.postgres.dsn or dsn_file is required when auth.local.store is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.local.store must be \"memory\" or \"postgres\", got %q", l.Store))
	}
	if l.Cache.Enabled && (l.Cache.Size <= 0 || l.Cache.TTL <= 0) {
		errs = append(errs, errors.New("auth.local.cache.size and ttl must be > 0 when the cache is enabled"))
	}
	return errs
}

func (r RemoteConfig) validate() []error {
	var errs []error
	if r.CheckTokenURL == "" {
		errs = append(errs, errors.New("auth.remote.check_token_url is required when auth.strategy is \"remote\""))
	} else if u, err := url.Parse(r.CheckTokenURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("auth.remote.check_token_url must be an absolute http(s) url, got %q", r.CheckTokenURL))
	}
	if r.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("auth.remote.timeout must be > 0, got %v", r.Timeout))
	}
	return errs
}
