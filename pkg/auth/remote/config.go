package remote

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Config holds the remote authority settings. It is copied at construction
// and never modified afterwards.
type Config struct {
	// CheckTokenURL is the authority's check-token endpoint (required).
	CheckTokenURL string

	// Timeout bounds each check-token call, on top of the caller's
	// context deadline. Default: 10s.
	Timeout time.Duration

	// MaxResponseBytes caps how much of the response body is read.
	// Default: 1 MiB.
	MaxResponseBytes int64

	// HTTPClient is the shared, process-owned client. The resolver borrows
	// it and never closes it. If nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// Logger receives resolution events. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxResponseBytes == 0 {
		c.MaxResponseBytes = 1 << 20
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) validate() error {
	if c.CheckTokenURL == "" {
		return errors.New("check token url is required")
	}
	u, err := url.Parse(c.CheckTokenURL)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("check token url must be an absolute http(s) url")
	}
	if c.Timeout < 0 || c.MaxResponseBytes < 0 {
		return errors.New("timeout and max response bytes must not be negative")
	}
	return nil
}
