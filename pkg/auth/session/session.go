// Package session resolves the caller from already-established login
// state. It performs no credential extraction and no network call: the
// session layer is trusted completely.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhuss/principal/pkg/auth"
)

// Name is the strategy name used in logs and metrics.
const Name = "session"

// LoginStatus reports the logged-in user carried by a request, or nil.
type LoginStatus interface {
	LoggedInUser(ctx context.Context, r *http.Request) (*auth.User, error)
}

// Resolver delegates resolution to a LoginStatus.
type Resolver struct {
	status LoginStatus
	logger *slog.Logger
}

var _ auth.Strategy = (*Resolver)(nil)

// New creates a session resolver. A nil logger uses slog.Default().
func New(status LoginStatus, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{status: status, logger: logger}
}

func (s *Resolver) Name() string { return Name }

// Resolve asks the session layer for the logged-in user.
func (s *Resolver) Resolve(ctx context.Context, r *http.Request) *auth.User {
	start := time.Now()
	return auth.Finish(ctx, s.logger, Name, start, s.resolve(ctx, r))
}

func (s *Resolver) resolve(ctx context.Context, r *http.Request) auth.Resolution {
	user, err := s.status.LoggedInUser(ctx, r)
	if err != nil {
		return auth.Resolution{
			Outcome: auth.LookupFailure,
			Err:     fmt.Errorf("reading login status: %w", err),
		}
	}
	if user == nil {
		return auth.Resolution{Outcome: auth.Unauthenticated}
	}
	return auth.Resolution{User: user, Outcome: auth.Authenticated}
}
