// Package cookie keeps login state in a signed session cookie. The cookie
// holds an HS256 JWT whose subject is the user id and whose "attrs" claim
// carries the remaining identity attributes.
package cookie

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/principal/pkg/auth"
	"github.com/rhuss/principal/pkg/debug"
)

// DefaultCookieName is the session cookie read when Config.CookieName is empty.
const DefaultCookieName = "session"

// MinSecretLength is the shortest accepted signing secret, in bytes.
const MinSecretLength = 32

// Config holds the cookie session store settings.
type Config struct {
	// Secret signs and verifies session tokens (required).
	Secret []byte

	// CookieName is the session cookie name. Default: "session".
	CookieName string

	// Issuer is set on issued tokens and, if non-empty, required on
	// presented ones.
	Issuer string
}

type claims struct {
	Attrs map[string]any `json:"attrs,omitempty"`
	jwtlib.RegisteredClaims
}

// Store reads and issues signed session cookies.
type Store struct {
	config Config
	now    func() time.Time
}

// New creates a cookie session store.
func New(cfg Config) (*Store, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	return &Store{config: cfg, now: time.Now}, nil
}

// LoggedInUser returns the user of a valid session cookie. A missing,
// forged or expired cookie means no session and is not an error.
func (s *Store) LoggedInUser(_ context.Context, r *http.Request) (*auth.User, error) {
	c, err := r.Cookie(s.config.CookieName)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && c.Value == "") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session cookie: %w", err)
	}

	var cl claims
	token, err := jwtlib.ParseWithClaims(c.Value, &cl, func(*jwtlib.Token) (any, error) {
		return s.config.Secret, nil
	}, s.parserOptions()...)
	if err != nil || !token.Valid {
		debug.Log("session", "ignoring invalid session cookie", "error", err)
		return nil, nil
	}
	if cl.Subject == "" {
		debug.Log("session", "ignoring session cookie without subject")
		return nil, nil
	}

	return &auth.User{ID: cl.Subject, Attributes: cl.Attrs}, nil
}

func (s *Store) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(s.now),
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(s.config.Issuer))
	}
	return opts
}

// Issue mints a signed session token for user, valid for ttl.
func (s *Store) Issue(user auth.User, ttl time.Duration) (string, error) {
	if user.ID == "" {
		return "", errors.New("session user must have an id")
	}
	if ttl <= 0 {
		return "", errors.New("session ttl must be positive")
	}

	now := s.now()
	cl := claims{
		Attrs: user.Attributes,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, cl).SignedString(s.config.Secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Cookie wraps an issued token in an HttpOnly session cookie.
func (s *Store) Cookie(user auth.User, ttl time.Duration) (*http.Cookie, error) {
	value, err := s.Issue(user, ttl)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     s.config.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}
