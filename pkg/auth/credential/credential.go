// Package credential extracts the bearer token and client identifier from
// inbound requests. Sources are independent per field: a request may carry
// a token without a client id, and the resolvers decide what that means.
package credential

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rhuss/principal/pkg/auth"
	"github.com/rhuss/principal/pkg/debug"
)

// ErrMalformed is returned when a credential is present but unreadable.
var ErrMalformed = errors.New("malformed credential")

// Source yields the token and client id carried by a request.
// A missing value is an empty string; an error means the request carried
// something that could not be parsed.
type Source interface {
	Token(r *http.Request) (string, error)
	ClientID(r *http.Request) (string, error)
}

// Extract reads both fields from src.
func Extract(src Source, r *http.Request) (auth.Credential, error) {
	token, err := src.Token(r)
	if err != nil {
		return auth.Credential{}, fmt.Errorf("extracting token: %w", err)
	}
	clientID, err := src.ClientID(r)
	if err != nil {
		return auth.Credential{}, fmt.Errorf("extracting client id: %w", err)
	}
	cred := auth.Credential{
		Token:    strings.TrimSpace(token),
		ClientID: strings.TrimSpace(clientID),
	}
	debug.Log("credential", "extracted credential",
		"has_token", cred.Token != "",
		"client_id", cred.ClientID,
	)
	return cred, nil
}

// HeaderSource reads the token from a bearer Authorization header and the
// client id from a plain header.
type HeaderSource struct {
	// TokenHeader carries "Bearer <token>". Default: "Authorization".
	TokenHeader string

	// ClientIDHeader carries the client id verbatim. Default: "client_id".
	ClientIDHeader string
}

// Token returns the bearer token. A header using another scheme is
// reported as ErrMalformed.
func (s HeaderSource) Token(r *http.Request) (string, error) {
	header := r.Header.Get(orDefault(s.TokenHeader, "Authorization"))
	if header == "" {
		return "", nil
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: authorization scheme is not bearer", ErrMalformed)
	}
	return strings.TrimSpace(token), nil
}

// ClientID returns the client id header value.
func (s HeaderSource) ClientID(r *http.Request) (string, error) {
	return r.Header.Get(orDefault(s.ClientIDHeader, "client_id")), nil
}

// CookieSource reads both values from cookies.
type CookieSource struct {
	// TokenCookie names the access token cookie. Default: "access_token".
	TokenCookie string

	// ClientIDCookie names the client id cookie. Default: "client_id".
	ClientIDCookie string
}

func (s CookieSource) Token(r *http.Request) (string, error) {
	return cookieValue(r, orDefault(s.TokenCookie, "access_token"))
}

func (s CookieSource) ClientID(r *http.Request) (string, error) {
	return cookieValue(r, orDefault(s.ClientIDCookie, "client_id"))
}

func cookieValue(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if errors.Is(err, http.ErrNoCookie) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: cookie %q: %v", ErrMalformed, name, err)
	}
	return c.Value, nil
}

// Chain consults sources in order; the first non-empty value per field wins.
// An error from any consulted source aborts that field.
func Chain(sources ...Source) Source {
	return chain(sources)
}

type chain []Source

func (c chain) Token(r *http.Request) (string, error) {
	return c.first(r, Source.Token)
}

func (c chain) ClientID(r *http.Request) (string, error) {
	return c.first(r, Source.ClientID)
}

func (c chain) first(r *http.Request, get func(Source, *http.Request) (string, error)) (string, error) {
	for _, src := range c {
		v, err := get(src, r)
		if err != nil {
			return "", err
		}
		if v != "" {
			return v, nil
		}
	}
	return "", nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
