// Package config provides configuration for the principal server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (PRINCIPAL_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the principal server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
}

// AuthConfig selects and configures the resolution strategy.
type AuthConfig struct {
	Strategy    string            `yaml:"strategy"` // "session", "local" or "remote", default: "remote"
	Required    bool              `yaml:"required"` // default: true
	Credentials CredentialsConfig `yaml:"credentials"`
	Session     SessionConfig     `yaml:"session"`
	Local       LocalConfig       `yaml:"local"`
	Remote      RemoteConfig      `yaml:"remote"`
}

// CredentialsConfig controls where the token and client id are read from.
type CredentialsConfig struct {
	Source         string `yaml:"source"`           // "header", "cookie" or "header+cookie", default: "header"
	TokenHeader    string `yaml:"token_header"`     // default: "Authorization"
	ClientIDHeader string `yaml:"client_id_header"` // default: "client_id"
	TokenCookie    string `yaml:"token_cookie"`     // default: "access_token"
	ClientIDCookie string `yaml:"client_id_cookie"` // default: "client_id"
}

// SessionConfig configures the session strategy's login state store.
type SessionConfig struct {
	Store  string              `yaml:"store"` // "cookie" or "redis", default: "cookie"
	Cookie CookieSessionConfig `yaml:"cookie"`
	Redis  RedisConfig         `yaml:"redis"`
}

// CookieSessionConfig holds signed session cookie settings.
type CookieSessionConfig struct {
	Name       string `yaml:"name"` // default: "session"
	Secret     string `yaml:"secret"`
	SecretFile string `yaml:"secret_file"` // _file variant for secret
	Issuer     string `yaml:"issuer"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
	CookieName   string `yaml:"cookie_name"` // session store only
	KeyPrefix    string `yaml:"key_prefix"`
}

// LocalConfig configures the local trust store.
type LocalConfig struct {
	Store    string               `yaml:"store"`  // "memory" or "postgres", default: "memory"
	Tokens   []TrustedTokenConfig `yaml:"tokens"` // seeds the memory store
	Postgres PostgresConfig       `yaml:"postgres"`
	Cache    CacheConfig          `yaml:"cache"`
}

// TrustedTokenConfig describes a single trusted (client id, token) pair.
type TrustedTokenConfig struct {
	ClientID   string         `yaml:"client_id" json:"client_id"`
	Token      string         `yaml:"token" json:"token"`
	TokenFile  string         `yaml:"token_file" json:"token_file"` // _file variant for token
	UserID     string         `yaml:"user_id" json:"user_id"`
	Attributes map[string]any `yaml:"attributes" json:"attributes"`
	ExpiresAt  time.Time      `yaml:"expires_at" json:"expires_at"` // zero: never
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// CacheConfig holds trust store cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"` // default: 1024
	TTL     time.Duration `yaml:"ttl"`  // default: 1m
}

// RemoteConfig configures the remote authority.
type RemoteConfig struct {
	CheckTokenURL    string        `yaml:"check_token_url"`
	Timeout          time.Duration `yaml:"timeout"`            // default: 10s
	MaxResponseBytes int64         `yaml:"max_response_bytes"` // default: 1 MiB
}

// RateLimitConfig configures per-user rate limiting of resolved requests.
type RateLimitConfig struct {
	Backend    string         `yaml:"backend"`     // "none", "memory" or "redis", default: "none"
	DefaultRPM int            `yaml:"default_rpm"` // 0: unlimited
	Tiers      map[string]int `yaml:"tiers"`       // tier name -> requests per minute
	Redis      RedisConfig    `yaml:"redis"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Strategy: "remote",
			Required: true,
			Credentials: CredentialsConfig{
				Source:         "header",
				TokenHeader:    "Authorization",
				ClientIDHeader: "client_id",
				TokenCookie:    "access_token",
				ClientIDCookie: "client_id",
			},
			Session: SessionConfig{
				Store:  "cookie",
				Cookie: CookieSessionConfig{Name: "session"},
			},
			Local: LocalConfig{
				Store:    "memory",
				Postgres: PostgresConfig{MaxConns: 10},
				Cache:    CacheConfig{Size: 1024, TTL: time.Minute},
			},
			Remote: RemoteConfig{
				Timeout:          10 * time.Second,
				MaxResponseBytes: 1 << 20,
			},
		},
		RateLimit: RateLimitConfig{
			Backend: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
