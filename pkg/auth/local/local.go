// Package local resolves the caller by validating the request's
// (token, client id) pair against a local trust store.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhuss/principal/pkg/auth"
	"github.com/rhuss/principal/pkg/auth/credential"
	"github.com/rhuss/principal/pkg/debug"
	"github.com/rhuss/principal/pkg/truststore"
)

// Name is the strategy name used in logs and metrics.
const Name = "local"

// TrustStore validates a complete credential and materializes its user.
// Expected refusals are reported with the truststore sentinel errors.
type TrustStore interface {
	Lookup(ctx context.Context, cred auth.Credential) (*auth.User, error)
}

// Resolver extracts a credential and checks it against a TrustStore.
type Resolver struct {
	source credential.Source
	store  TrustStore
	logger *slog.Logger
}

var _ auth.Strategy = (*Resolver)(nil)

// New creates a local trust resolver. A nil logger uses slog.Default().
func New(source credential.Source, store TrustStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, store: store, logger: logger}
}

func (l *Resolver) Name() string { return Name }

// Resolve returns the user trusted for the request's credential, or nil.
func (l *Resolver) Resolve(ctx context.Context, r *http.Request) *auth.User {
	start := time.Now()
	return auth.Finish(ctx, l.logger, Name, start, l.resolve(ctx, r))
}

func (l *Resolver) resolve(ctx context.Context, r *http.Request) auth.Resolution {
	cred, err := credential.Extract(l.source, r)
	if err != nil {
		return auth.Resolution{Outcome: auth.MalformedCredential, Err: err}
	}
	if !cred.Complete() {
		return auth.Resolution{Outcome: auth.MissingCredential}
	}

	debug.Log("store", "trust store lookup", "client_id", cred.ClientID)

	user, err := l.store.Lookup(ctx, cred)
	switch {
	case truststore.IsRejection(err):
		return auth.Resolution{
			Outcome: auth.Rejected,
			Err:     err,
			Attrs:   []any{"client_id", cred.ClientID},
		}
	case err != nil:
		return auth.Resolution{
			Outcome: auth.LookupFailure,
			Err:     fmt.Errorf("trust store lookup: %w", err),
			Attrs:   []any{"client_id", cred.ClientID},
		}
	case user == nil:
		return auth.Resolution{
			Outcome: auth.LookupFailure,
			Err:     errors.New("trust store returned no user"),
			Attrs:   []any{"client_id", cred.ClientID},
		}
	}
	return auth.Resolution{User: user, Outcome: auth.Authenticated}
}
