// Package remote resolves the caller by asking a remote authority whether
// the request's (token, client id) pair is valid.
//
// The wire protocol is a single POST of {"client_id", "access_token"} to
// the configured check-token endpoint, answered with
// {"success": bool, "data": user|null}. A success=false reply is an
// expected rejection and is logged informationally with the full decoded
// payload; every other failure is logged as an error. Neither reaches the
// caller, which only ever sees a user or nil.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rhuss/principal/pkg/auth"
	"github.com/rhuss/principal/pkg/auth/credential"
	"github.com/rhuss/principal/pkg/debug"
	"github.com/rhuss/principal/pkg/observability"
)

// Name is the strategy name used in logs and metrics.
const Name = "remote"

// ErrRejected is recorded when the authority answers success=false.
var ErrRejected = errors.New("check token rejected")

// Resolver validates credentials against a remote check-token endpoint.
// It supports both blocking (Resolve) and non-blocking (ResolveAsync)
// resolution with identical outcomes.
type Resolver struct {
	config Config
	source credential.Source
}

var (
	_ auth.Strategy      = (*Resolver)(nil)
	_ auth.AsyncStrategy = (*Resolver)(nil)
)

// New creates a remote authority resolver.
func New(cfg Config, source credential.Source) (*Resolver, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("remote authority config: %w", err)
	}
	return &Resolver{config: cfg, source: source}, nil
}

func (a *Resolver) Name() string { return Name }

// Resolve checks the request's credential, blocking until the authority
// answers, the timeout elapses or ctx ends.
func (a *Resolver) Resolve(ctx context.Context, r *http.Request) *auth.User {
	start := time.Now()
	return auth.Finish(ctx, a.config.Logger, Name, start, a.resolve(ctx, r, decodeBuffered))
}

// ResolveAsync runs the check on its own goroutine. The channel receives
// exactly one value; cancelling ctx aborts the in-flight request.
func (a *Resolver) ResolveAsync(ctx context.Context, r *http.Request) <-chan *auth.User {
	return auth.Go(a.config.Logger, func() *auth.User {
		start := time.Now()
		return auth.Finish(ctx, a.config.Logger, Name, start, a.resolve(ctx, r, decodeStream))
	})
}

func (a *Resolver) resolve(ctx context.Context, r *http.Request, decode decodeFunc) auth.Resolution {
	cred, err := credential.Extract(a.source, r)
	if err != nil {
		return auth.Resolution{Outcome: auth.MalformedCredential, Err: err}
	}
	if !cred.Complete() {
		return auth.Resolution{Outcome: auth.MissingCredential}
	}

	resp, err := a.checkToken(ctx, cred, decode)
	if err != nil {
		return auth.Resolution{
			Outcome: auth.TransportFailure,
			Err:     err,
			Attrs:   []any{"client_id", cred.ClientID},
		}
	}

	if !resp.Success {
		payload, _ := json.Marshal(resp)
		return auth.Resolution{
			Outcome: auth.Rejected,
			Err:     ErrRejected,
			Attrs:   []any{"client_id", cred.ClientID, "response", string(payload)},
		}
	}

	if resp.Data == nil || resp.Data.ID == "" {
		return auth.Resolution{
			Outcome: auth.TransportFailure,
			Err:     errors.New("check token succeeded without a user"),
			Attrs:   []any{"client_id", cred.ClientID},
		}
	}

	return auth.Resolution{User: resp.Data, Outcome: auth.Authenticated}
}

// checkToken performs one POST to the check-token endpoint. The response
// body is closed on every return path.
func (a *Resolver) checkToken(ctx context.Context, cred auth.Credential, decode decodeFunc) (*CheckTokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	body, err := json.Marshal(checkTokenRequest{
		ClientID:    cred.ClientID,
		AccessToken: cred.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding check token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.CheckTokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating check token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	debug.Log("remote", "check token request", "url", a.config.CheckTokenURL, "client_id", cred.ClientID)

	resp, err := a.config.HTTPClient.Do(req)
	if err != nil {
		observability.CheckTokenRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("calling check token endpoint: %w", err)
	}
	defer resp.Body.Close()

	observability.CheckTokenRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("check token endpoint returned status %d: %s",
			resp.StatusCode, debug.Truncate(string(snippet), 256))
	}

	var out CheckTokenResponse
	if err := decode(io.LimitReader(resp.Body, a.config.MaxResponseBytes), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type decodeFunc func(body io.Reader, out *CheckTokenResponse) error

// decodeBuffered reads the whole body, then unmarshals it.
func decodeBuffered(body io.Reader, out *CheckTokenResponse) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading check token response: %w", err)
	}
	debug.Raw("remote", string(data))
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing check token response: %w", err)
	}
	return nil
}

// decodeStream decodes straight from the body without buffering it. Like
// json.Unmarshal, it accepts only whitespace after the response object.
func decodeStream(body io.Reader, out *CheckTokenResponse) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parsing check token response: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("parsing check token response: unexpected data after response object")
	}
	return nil
}
