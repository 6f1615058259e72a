// Package redis keeps login state server-side in Redis. The session cookie
// carries only an opaque id; the user JSON lives under <prefix><id> and
// expires with the session.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rhuss/principal/pkg/auth"
	"github.com/rhuss/principal/pkg/debug"
)

// Defaults for Config.
const (
	DefaultCookieName = "session_id"
	DefaultKeyPrefix  = "principal:session:"
)

// Config holds the Redis session store settings.
type Config struct {
	// Addr is the Redis address, host:port (required unless a client is
	// supplied with NewWithClient).
	Addr     string
	Password string
	DB       int

	// CookieName is the cookie holding the session id. Default: "session_id".
	CookieName string

	// KeyPrefix is prepended to session ids. Default: "principal:session:".
	KeyPrefix string
}

func (c *Config) defaults() {
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
}

// Store looks up sessions in Redis.
type Store struct {
	client *goredis.Client
	config Config
	owned  bool
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	s := NewWithClient(client, cfg)
	s.owned = true
	return s, nil
}

// NewWithClient uses an existing client. Close leaves it open.
func NewWithClient(client *goredis.Client, cfg Config) *Store {
	cfg.defaults()
	return &Store{client: client, config: cfg}
}

// LoggedInUser returns the user of the request's session, or nil when the
// request has no session cookie or the session does not exist.
func (s *Store) LoggedInUser(ctx context.Context, r *http.Request) (*auth.User, error) {
	c, err := r.Cookie(s.config.CookieName)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && c.Value == "") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session cookie: %w", err)
	}

	data, err := s.client.Get(ctx, s.key(c.Value)).Bytes()
	if errors.Is(err, goredis.Nil) {
		debug.Log("session", "unknown session id")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var u auth.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if u.ID == "" {
		return nil, errors.New("stored session has no user id")
	}
	return &u, nil
}

// Save stores user under id for ttl.
func (s *Store) Save(ctx context.Context, id string, user auth.User, ttl time.Duration) error {
	if id == "" || user.ID == "" {
		return errors.New("session id and user id are required")
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Delete ends the session id. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client if the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(id string) string {
	return s.config.KeyPrefix + id
}
