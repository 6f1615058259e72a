package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, PRINCIPAL_CONFIG env, ./config.yaml, /etc/principal/config.yaml)
//  3. PRINCIPAL_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. PRINCIPAL_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/principal/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("PRINCIPAL_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/principal/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps PRINCIPAL_* environment variables to config
// fields. Malformed numeric or duration values are errors.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PRINCIPAL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PRINCIPAL_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("PRINCIPAL_AUTH_STRATEGY"); v != "" {
		cfg.Auth.Strategy = v
	}
	if v := os.Getenv("PRINCIPAL_AUTH_REQUIRED"); v != "" {
		required, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PRINCIPAL_AUTH_REQUIRED: %w", err)
		}
		cfg.Auth.Required = required
	}
	if v := os.Getenv("PRINCIPAL_CREDENTIAL_SOURCE"); v != "" {
		cfg.Auth.Credentials.Source = v
	}

	if v := os.Getenv("PRINCIPAL_CHECK_TOKEN_URL"); v != "" {
		cfg.Auth.Remote.CheckTokenURL = v
	}
	if v := os.Getenv("PRINCIPAL_CHECK_TOKEN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PRINCIPAL_CHECK_TOKEN_TIMEOUT: %w", err)
		}
		cfg.Auth.Remote.Timeout = d
	}

	if v := os.Getenv("PRINCIPAL_SESSION_STORE"); v != "" {
		cfg.Auth.Session.Store = v
	}
	if v := os.Getenv("PRINCIPAL_SESSION_SECRET"); v != "" {
		cfg.Auth.Session.Cookie.Secret = v
	}
	if v := os.Getenv("PRINCIPAL_SESSION_REDIS_ADDR"); v != "" {
		cfg.Auth.Session.Redis.Addr = v
	}

	if v := os.Getenv("PRINCIPAL_TRUST_STORE"); v != "" {
		cfg.Auth.Local.Store = v
	}
	if v := os.Getenv("PRINCIPAL_POSTGRES_DSN"); v != "" {
		cfg.Auth.Local.Postgres.DSN = v
	}

	// PRINCIPAL_TRUSTED_TOKENS: JSON array of trusted token entries.
	if v := os.Getenv("PRINCIPAL_TRUSTED_TOKENS"); v != "" {
		tokens, err := parseTrustedTokensJSON(v)
		if err != nil {
			return fmt.Errorf("PRINCIPAL_TRUSTED_TOKENS: %w", err)
		}
		cfg.Auth.Local.Tokens = tokens
	}

	if v := os.Getenv("PRINCIPAL_RATE_LIMIT_BACKEND"); v != "" {
		cfg.RateLimit.Backend = v
	}
	if v := os.Getenv("PRINCIPAL_RATE_LIMIT_REDIS_ADDR"); v != "" {
		cfg.RateLimit.Redis.Addr = v
	}
	return nil
}

// parseTrustedTokensJSON parses a JSON array of trusted token entries.
func parseTrustedTokensJSON(jsonStr string) ([]TrustedTokenConfig, error) {
	var tokens []TrustedTokenConfig
	if err := json.Unmarshal([]byte(jsonStr), &tokens); err != nil {
		return nil, fmt.Errorf("parsing trusted tokens JSON: %w", err)
	}
	return tokens, nil
}

type fileRef struct {
	name  string
	file  string
	value *string
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []fileRef{
		{"auth.session.cookie.secret_file", cfg.Auth.Session.Cookie.SecretFile, &cfg.Auth.Session.Cookie.Secret},
		{"auth.session.redis.password_file", cfg.Auth.Session.Redis.PasswordFile, &cfg.Auth.Session.Redis.Password},
		{"auth.local.postgres.dsn_file", cfg.Auth.Local.Postgres.DSNFile, &cfg.Auth.Local.Postgres.DSN},
		{"rate_limit.redis.password_file", cfg.RateLimit.Redis.PasswordFile, &cfg.RateLimit.Redis.Password},
	}
	for i := range cfg.Auth.Local.Tokens {
		tok := &cfg.Auth.Local.Tokens[i]
		refs = append(refs, fileRef{fmt.Sprintf("auth.local.tokens[%d].token_file", i), tok.TokenFile, &tok.Token})
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
