package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMiddleware_BypassEndpoint(t *testing.T) {
	s := &mockStrategy{}
	mw := Middleware(s, MiddlewareConfig{Required: true, BypassEndpoints: []string{"/healthz"}})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("bypass endpoint: status = %d, want 200", rec.Code)
	}
	if s.calls != 0 {
		t.Errorf("strategy called %d times on bypass endpoint", s.calls)
	}
}

func TestMiddleware_Required_Rejects(t *testing.T) {
	mw := Middleware(&mockStrategy{}, MiddlewareConfig{Required: true, BypassEndpoints: DefaultBypassEndpoints})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/whoami", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no user: status = %d, want 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestMiddleware_Optional_PassesAnonymous(t *testing.T) {
	mw := Middleware(&mockStrategy{}, MiddlewareConfig{})

	var sawUser bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawUser = UserFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/whoami", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if sawUser {
		t.Error("expected no user in context")
	}
}

func TestMiddleware_ResolvedUserInContext(t *testing.T) {
	s := &mockStrategy{user: &User{ID: "alice"}}
	mw := Middleware(s, MiddlewareConfig{Required: true})

	var got *User
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/whoami", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.ID != "alice" {
		t.Errorf("user = %v, want alice", got)
	}
	if s.calls != 1 {
		t.Errorf("strategy calls = %d, want 1", s.calls)
	}
}

func TestMiddleware_RateLimit_Exceeded(t *testing.T) {
	s := &mockStrategy{user: &User{ID: "alice", Attributes: map[string]any{TierAttribute: "limited"}}}

	limiter := NewInProcessLimiter(map[string]TierConfig{
		"limited": {RequestsPerMinute: 2},
	}, 100)

	mw := Middleware(s, MiddlewareConfig{Required: true, Limiter: limiter})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/v1/whoami", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest("GET", "/v1/whoami", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("rate limited request: status = %d, want 429", rec.Code)
	}
}

func TestMiddleware_RateLimit_UsesTierAttribute(t *testing.T) {
	var u User
	if err := json.Unmarshal([]byte(`{"id":"dave","tier":"gold"}`), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := TierOf(&u); got != "gold" {
		t.Fatalf("TierOf = %q, want gold", got)
	}

	limiter := NewInProcessLimiter(map[string]TierConfig{
		"gold": {RequestsPerMinute: 1},
	}, 100)
	mw := Middleware(&mockStrategy{user: &u}, MiddlewareConfig{Required: true, Limiter: limiter})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	want := []int{http.StatusOK, http.StatusTooManyRequests}
	for i, code := range want {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/whoami", nil))
		if rec.Code != code {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, code)
		}
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, *User) error { return errors.New("redis down") }

func TestMiddleware_LimiterFailureIsUnavailable(t *testing.T) {
	s := &mockStrategy{user: &User{ID: "alice"}}
	mw := Middleware(s, MiddlewareConfig{Required: true, Limiter: failingLimiter{}})

	var reached bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/whoami", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if reached {
		t.Error("handler reached despite limiter failure")
	}
}

func TestInProcessLimiter_WindowResets(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewInProcessLimiter(nil, 1)
	limiter.now = func() time.Time { return now }

	u := &User{ID: "bob"}
	if err := limiter.Allow(context.Background(), u); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := limiter.Allow(context.Background(), u); err != ErrTooManyRequests {
		t.Fatalf("second request: err = %v, want ErrTooManyRequests", err)
	}

	now = now.Add(time.Minute)
	if err := limiter.Allow(context.Background(), u); err != nil {
		t.Errorf("after window: %v", err)
	}
}

func TestInProcessLimiter_ZeroMeansUnlimited(t *testing.T) {
	limiter := NewInProcessLimiter(map[string]TierConfig{"free": {RequestsPerMinute: 0}}, 0)
	u := &User{ID: "carol", Attributes: map[string]any{TierAttribute: "free"}}

	for i := 0; i < 50; i++ {
		if err := limiter.Allow(context.Background(), u); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
}
