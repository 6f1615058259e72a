package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhuss/principal/pkg/auth"
	"github.com/rhuss/principal/pkg/auth/authtest"
	"github.com/rhuss/principal/pkg/auth/credential"
	"github.com/rhuss/principal/pkg/observability"
)

// authority is a stub check-token endpoint.
type authority struct {
	status int
	body   string
	delay  time.Duration

	calls atomic.Int32

	mu          sync.Mutex
	last        checkTokenRequest
	contentType string
}

func (a *authority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.calls.Add(1)

	var req checkTokenRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	a.mu.Lock()
	a.last = req
	a.contentType = r.Header.Get("Content-Type")
	a.mu.Unlock()

	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-r.Context().Done():
			return
		}
	}

	status := a.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(a.body))
}

// grantFor answers success only for abc123/cli-9.
type grantFor struct{ calls atomic.Int32 }

func (g *grantFor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.calls.Add(1)
	var req checkTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if req.AccessToken == "abc123" && req.ClientID == "cli-9" {
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"u1","name":"Ada"}}`))
		return
	}
	_, _ = w.Write([]byte(`{"success":false,"data":null}`))
}

func newResolver(t *testing.T, url string, logger *slog.Logger) *Resolver {
	t.Helper()
	r, err := New(Config{
		CheckTokenURL: url,
		Timeout:       2 * time.Second,
		Logger:        logger,
	}, credential.HeaderSource{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func request(token, clientID string) *http.Request {
	r := httptest.NewRequest("GET", "/", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if clientID != "" {
		r.Header.Set("client_id", clientID)
	}
	return r
}

// modes runs a test against both the blocking and the non-blocking path.
var modes = []struct {
	name    string
	resolve func(ctx context.Context, res *Resolver, r *http.Request) *auth.User
}{
	{"blocking", func(ctx context.Context, res *Resolver, r *http.Request) *auth.User {
		return res.Resolve(ctx, r)
	}},
	{"async", func(ctx context.Context, res *Resolver, r *http.Request) *auth.User {
		return <-res.ResolveAsync(ctx, r)
	}},
}

func TestResolve_ValidCredential(t *testing.T) {
	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			stub := &grantFor{}
			srv := httptest.NewServer(stub)
			defer srv.Close()

			res := newResolver(t, srv.URL, nil)
			got := m.resolve(context.Background(), res, request("abc123", "cli-9"))

			if got == nil || got.ID != "u1" {
				t.Fatalf("got %v, want u1", got)
			}
			if got.Attr("name") != "Ada" {
				t.Errorf("name = %q, want Ada", got.Attr("name"))
			}
			if stub.calls.Load() != 1 {
				t.Errorf("calls = %d, want 1", stub.calls.Load())
			}
		})
	}
}

func TestResolve_LargeNumericIDIsExact(t *testing.T) {
	srv := httptest.NewServer(&authority{body: `{"success":true,"data":{"id":9007199254740993,"org":12345678901234567890}}`})
	defer srv.Close()

	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			res := newResolver(t, srv.URL, nil)
			u := m.resolve(context.Background(), res, request("abc123", "cli-9"))
			if u == nil {
				t.Fatal("got nil, want user")
			}
			if u.ID != "9007199254740993" {
				t.Errorf("ID = %q, want 9007199254740993", u.ID)
			}
			if org, _ := u.Attributes["org"].(json.Number); org.String() != "12345678901234567890" {
				t.Errorf("org = %v, want 12345678901234567890", u.Attributes["org"])
			}
		})
	}
}

func TestResolve_RequestBody(t *testing.T) {
	stub := &authority{body: `{"success":true,"data":{"id":"u1"}}`}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	res := newResolver(t, srv.URL, nil)
	if got := res.Resolve(context.Background(), request("abc123", "cli-9")); got == nil {
		t.Fatal("expected user")
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.last.AccessToken != "abc123" || stub.last.ClientID != "cli-9" {
		t.Errorf("request = %+v", stub.last)
	}
	if stub.contentType != "application/json" {
		t.Errorf("content-type = %q", stub.contentType)
	}
}

func TestResolve_MissingCredentialMakesNoCall(t *testing.T) {
	cases := []struct {
		name            string
		token, clientID string
	}{
		{"no authorization header", "", "cli-9"},
		{"no client id", "abc123", ""},
		{"nothing", "", ""},
	}

	for _, m := range modes {
		for _, tc := range cases {
			t.Run(m.name+"/"+tc.name, func(t *testing.T) {
				logger, rec := authtest.NewLogger()
				stub := &authority{body: `{"success":true,"data":{"id":"u1"}}`}
				srv := httptest.NewServer(stub)
				defer srv.Close()

				res := newResolver(t, srv.URL, logger)
				if got := m.resolve(context.Background(), res, request(tc.token, tc.clientID)); got != nil {
					t.Fatalf("got %v, want nil", got)
				}
				if stub.calls.Load() != 0 {
					t.Errorf("calls = %d, want 0", stub.calls.Load())
				}
				if n := rec.Count(slog.LevelError) + rec.Count(slog.LevelInfo); n != 0 {
					t.Errorf("info/error events = %d, want 0", n)
				}
			})
		}
	}
}

func TestResolve_MalformedAuthorizationMakesNoCall(t *testing.T) {
	logger, rec := authtest.NewLogger()
	stub := &authority{body: `{"success":true,"data":{"id":"u1"}}`}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	res := newResolver(t, srv.URL, logger)
	r := request("", "cli-9")
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	if got := res.Resolve(context.Background(), r); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
	if stub.calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", stub.calls.Load())
	}
	if rec.Count(slog.LevelError) != 1 {
		t.Errorf("error events = %d, want 1", rec.Count(slog.LevelError))
	}
}

func TestResolve_RejectionLogsPayloadAtInfo(t *testing.T) {
	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			logger, rec := authtest.NewLogger()
			stub := &grantFor{}
			srv := httptest.NewServer(stub)
			defer srv.Close()

			res := newResolver(t, srv.URL, logger)
			if got := m.resolve(context.Background(), res, request("wrong", "cli-9")); got != nil {
				t.Fatalf("got %v, want nil", got)
			}

			if rec.Count(slog.LevelInfo) != 1 {
				t.Fatalf("info events = %d, want 1", rec.Count(slog.LevelInfo))
			}
			if rec.Count(slog.LevelError) != 0 {
				t.Errorf("error events = %d, want 0", rec.Count(slog.LevelError))
			}
			ev, _ := rec.Last(slog.LevelInfo)
			if ev.Attrs["response"] != `{"success":false,"data":null}` {
				t.Errorf("response attr = %v", ev.Attrs["response"])
			}
			if ev.Attrs["client_id"] != "cli-9" {
				t.Errorf("client_id attr = %v", ev.Attrs["client_id"])
			}
		})
	}
}

func TestResolve_FailuresLogOneError(t *testing.T) {
	cases := []struct {
		name string
		stub *authority
	}{
		{"server error", &authority{status: http.StatusInternalServerError, body: "boom"}},
		{"unauthorized status", &authority{status: http.StatusUnauthorized, body: `{"success":false}`}},
		{"malformed body", &authority{body: `{"success":tru`}},
		{"not json", &authority{body: `<html>`}},
		{"success without user", &authority{body: `{"success":true,"data":null}`}},
		{"success with empty id", &authority{body: `{"success":true,"data":{"id":""}}`}},
		{"data not an object", &authority{body: `{"success":true,"data":"u1"}`}},
		{"trailing garbage", &authority{body: `{"success":true,"data":{"id":"u1"}} trailing-garbage`}},
		{"second object", &authority{body: `{"success":true,"data":{"id":"u1"}}{"success":false}`}},
	}

	for _, m := range modes {
		for _, tc := range cases {
			t.Run(m.name+"/"+tc.name, func(t *testing.T) {
				logger, rec := authtest.NewLogger()
				stub := &authority{status: tc.stub.status, body: tc.stub.body}
				srv := httptest.NewServer(stub)
				defer srv.Close()

				res := newResolver(t, srv.URL, logger)
				if got := m.resolve(context.Background(), res, request("abc123", "cli-9")); got != nil {
					t.Fatalf("got %v, want nil", got)
				}
				if rec.Count(slog.LevelError) != 1 {
					t.Errorf("error events = %d, want 1", rec.Count(slog.LevelError))
				}
				if rec.Count(slog.LevelInfo) != 0 {
					t.Errorf("info events = %d, want 0", rec.Count(slog.LevelInfo))
				}
			})
		}
	}
}

func TestResolve_Timeout(t *testing.T) {
	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			logger, rec := authtest.NewLogger()
			stub := &authority{delay: 2 * time.Second, body: `{"success":true,"data":{"id":"u1"}}`}
			srv := httptest.NewServer(stub)
			defer srv.Close()

			res, err := New(Config{
				CheckTokenURL: srv.URL,
				Timeout:       50 * time.Millisecond,
				Logger:        logger,
			}, credential.HeaderSource{})
			if err != nil {
				t.Fatal(err)
			}

			start := time.Now()
			got := m.resolve(context.Background(), res, request("abc123", "cli-9"))
			if got != nil {
				t.Fatalf("got %v, want nil", got)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("resolution took %v, timeout not honored", elapsed)
			}
			if rec.Count(slog.LevelError) != 1 {
				t.Errorf("error events = %d, want 1", rec.Count(slog.LevelError))
			}
		})
	}
}

func TestResolve_CancelledContext(t *testing.T) {
	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			logger, rec := authtest.NewLogger()
			stub := &authority{delay: 2 * time.Second, body: `{"success":true,"data":{"id":"u1"}}`}
			srv := httptest.NewServer(stub)
			defer srv.Close()

			res := newResolver(t, srv.URL, logger)

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				time.Sleep(50 * time.Millisecond)
				cancel()
			}()

			if got := m.resolve(ctx, res, request("abc123", "cli-9")); got != nil {
				t.Fatalf("got %v, want nil", got)
			}
			if rec.Count(slog.LevelError) != 1 {
				t.Errorf("error events = %d, want 1", rec.Count(slog.LevelError))
			}
		})
	}
}

func TestResolve_UnreachableAuthority(t *testing.T) {
	srv := httptest.NewServer(&authority{})
	url := srv.URL
	srv.Close()

	logger, rec := authtest.NewLogger()
	res := newResolver(t, url, logger)

	before := authtest.CounterValue(t, observability.CheckTokenRequestsTotal, "error")
	if got := res.Resolve(context.Background(), request("abc123", "cli-9")); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
	if rec.Count(slog.LevelError) != 1 {
		t.Errorf("error events = %d, want 1", rec.Count(slog.LevelError))
	}
	if after := authtest.CounterValue(t, observability.CheckTokenRequestsTotal, "error"); after-before != 1 {
		t.Errorf("error counter delta = %v, want 1", after-before)
	}
}

func TestResolve_OversizedResponse(t *testing.T) {
	body := `{"success":true,"data":{"id":"u1","blob":"` + strings.Repeat("x", 4096) + `"}}`
	stub := &authority{body: body}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			res, err := New(Config{
				CheckTokenURL:    srv.URL,
				MaxResponseBytes: 1024,
			}, credential.HeaderSource{})
			if err != nil {
				t.Fatal(err)
			}
			if got := m.resolve(context.Background(), res, request("abc123", "cli-9")); got != nil {
				t.Errorf("got %v, want nil for truncated response", got)
			}
		})
	}
}

func TestResolve_BlockingAndAsyncAgree(t *testing.T) {
	bodies := []struct {
		status int
		body   string
	}{
		{http.StatusOK, `{"success":true,"data":{"id":"u1","role":"admin"}}`},
		{http.StatusOK, `{"success":true,"data":{"id":42}}`},
		{http.StatusOK, `{"success":false,"data":null}`},
		{http.StatusOK, `{"success":false,"message":"expired"}`},
		{http.StatusOK, `{"success":true,"data":null}`},
		{http.StatusOK, `garbage`},
		{http.StatusOK, `{"success":true,"data":{"id":"u1"}} trailing-garbage`},
		{http.StatusOK, `{"success":true,"data":{"id":"u1"}}{"success":false}`},
		{http.StatusOK, "{\"success\":true,\"data\":{\"id\":\"u1\"}}\n\t "},
		{http.StatusOK, `{"success":true,"data":{"id":9007199254740993}}`},
		{http.StatusBadGateway, ``},
	}

	for _, b := range bodies {
		srv := httptest.NewServer(&authority{status: b.status, body: b.body})

		blockLog, blockRec := authtest.NewLogger()
		asyncLog, asyncRec := authtest.NewLogger()
		blockRes := newResolver(t, srv.URL, blockLog)
		asyncRes := newResolver(t, srv.URL, asyncLog)

		blocking := blockRes.Resolve(context.Background(), request("abc123", "cli-9"))
		async := <-asyncRes.ResolveAsync(context.Background(), request("abc123", "cli-9"))
		srv.Close()

		if (blocking == nil) != (async == nil) {
			t.Errorf("%s: blocking=%v async=%v", b.body, blocking, async)
			continue
		}
		if blocking != nil && blocking.ID != async.ID {
			t.Errorf("%s: blocking id %q, async id %q", b.body, blocking.ID, async.ID)
		}
		for _, level := range []slog.Level{slog.LevelInfo, slog.LevelError} {
			if blockRec.Count(level) != asyncRec.Count(level) {
				t.Errorf("%s: %v events blocking=%d async=%d", b.body, level, blockRec.Count(level), asyncRec.Count(level))
			}
		}
	}
}

func TestResolveAsync_DoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"u1"}}`))
	}))
	defer srv.Close()

	res := newResolver(t, srv.URL, nil)
	ch := res.ResolveAsync(context.Background(), request("abc123", "cli-9"))

	select {
	case u := <-ch:
		t.Fatalf("resolved before authority answered: %v", u)
	default:
	}

	close(release)
	if got := <-ch; got == nil || got.ID != "u1" {
		t.Fatalf("got %v, want u1", got)
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{}},
		{"relative url", Config{CheckTokenURL: "/check"}},
		{"unsupported scheme", Config{CheckTokenURL: "ftp://auth.local/check"}},
		{"negative timeout", Config{CheckTokenURL: "http://auth.local/check", Timeout: -time.Second}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg, credential.HeaderSource{}); err == nil {
				t.Error("expected error")
			}
		})
	}

	res, err := New(Config{CheckTokenURL: "https://auth.local/check"}, credential.HeaderSource{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if res.config.Timeout != 10*time.Second {
		t.Errorf("default timeout = %v", res.config.Timeout)
	}
	if res.config.HTTPClient != http.DefaultClient {
		t.Error("expected shared default client")
	}
	if res.Name() != Name {
		t.Errorf("Name() = %q", res.Name())
	}
}
