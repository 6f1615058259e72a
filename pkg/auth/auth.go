package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/rhuss/principal/pkg/observability"
)

// User is the opaque identity record returned on successful resolution.
// Only ID is interpreted; everything else the source returned is carried
// through unchanged in Attributes.
type User struct {
	// ID is the unique identifier (required, non-empty).
	ID string

	// Attributes holds the remaining fields of the identity record.
	Attributes map[string]any
}

// Attr returns a string attribute, or empty string if missing or not a string.
func (u *User) Attr(key string) string {
	if u == nil || u.Attributes == nil {
		return ""
	}
	s, _ := u.Attributes[key].(string)
	return s
}

// Clone returns a copy whose attribute map is not shared with u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := &User{ID: u.ID}
	if u.Attributes != nil {
		c.Attributes = maps.Clone(u.Attributes)
	}
	return c
}

// MarshalJSON flattens the user into a single object with an "id" key.
func (u User) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(u.Attributes)+1)
	for k, v := range u.Attributes {
		m[k] = v
	}
	m["id"] = u.ID
	return json.Marshal(m)
}

// UnmarshalJSON reads an identity object. The "id" key may be a string or
// a number; all other keys become attributes. Numbers are kept as
// json.Number so large ids and attribute values survive unchanged.
func (u *User) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after user object")
	}
	if m == nil {
		return errors.New("user must be a JSON object")
	}

	switch id := m["id"].(type) {
	case string:
		u.ID = id
	case json.Number:
		u.ID = id.String()
	case nil:
		u.ID = ""
	default:
		return fmt.Errorf("user id has unsupported type %T", id)
	}
	delete(m, "id")

	u.Attributes = nil
	if len(m) > 0 {
		u.Attributes = m
	}
	return nil
}

// Credential is the (token, client id) pair extracted from a request.
type Credential struct {
	Token    string
	ClientID string
}

// Complete reports whether both fields are non-empty. Lookups only run
// for complete credentials.
func (c Credential) Complete() bool {
	return c.Token != "" && c.ClientID != ""
}

// Strategy resolves the calling principal for one request.
// Implementations must never panic or surface errors: failures yield nil.
type Strategy interface {
	Resolve(ctx context.Context, r *http.Request) *User
}

// AsyncStrategy is implemented by strategies with a native non-blocking
// path. The returned channel receives exactly one value.
type AsyncStrategy interface {
	ResolveAsync(ctx context.Context, r *http.Request) <-chan *User
}

// Named is implemented by strategies that report a name for logs and metrics.
type Named interface {
	Name() string
}

// NameOf returns the strategy name, or "custom" for unnamed strategies.
func NameOf(s Strategy) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return "custom"
}

// ResolveAsync resolves without blocking the caller. Strategies with a
// native async path are used directly; otherwise Resolve runs on its own
// goroutine.
func ResolveAsync(ctx context.Context, s Strategy, r *http.Request) <-chan *User {
	if as, ok := s.(AsyncStrategy); ok {
		return as.ResolveAsync(ctx, r)
	}
	return Go(slog.Default(), func() *User {
		return s.Resolve(ctx, r)
	})
}

// Go runs fn on a new goroutine and delivers its result on a buffered
// channel. A panic in fn is logged and delivered as nil.
func Go(logger *slog.Logger, fn func() *User) <-chan *User {
	if logger == nil {
		logger = slog.Default()
	}
	ch := make(chan *User, 1)
	go func() {
		var user *User
		defer func() {
			if p := recover(); p != nil {
				logger.Error("principal resolution panicked", "panic", p)
				user = nil
			}
			ch <- user
		}()
		user = fn()
	}()
	return ch
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Resolution is the internal result of one resolution attempt, before it
// is collapsed to a user or nil.
type Resolution struct {
	User    *User
	Outcome Outcome
	Err     error

	// Attrs are extra key/value pairs attached to the log event.
	Attrs []any
}

// Finish converts a Resolution into the boundary result. It emits at most
// one log event at the level implied by the outcome and records metrics.
func Finish(ctx context.Context, logger *slog.Logger, strategy string, start time.Time, res Resolution) *User {
	if logger == nil {
		logger = slog.Default()
	}

	if res.Outcome == Authenticated && (res.User == nil || res.User.ID == "") {
		res = Resolution{
			Outcome: LookupFailure,
			Err:     errors.New("resolved identity has no id"),
		}
	}

	observability.ResolutionsTotal.WithLabelValues(strategy, res.Outcome.String()).Inc()
	observability.ResolutionDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())

	attrs := append([]any{"strategy", strategy, "outcome", res.Outcome.String()}, res.Attrs...)
	if res.Err != nil {
		attrs = append(attrs, "error", res.Err)
	}

	switch res.Outcome {
	case Authenticated:
		logger.DebugContext(ctx, "principal resolved", append(attrs, "user_id", res.User.ID)...)
		return res.User
	case Rejected:
		logger.InfoContext(ctx, "credential rejected", attrs...)
	case MissingCredential, Unauthenticated:
		logger.DebugContext(ctx, "no principal", attrs...)
	default:
		logger.ErrorContext(ctx, "principal resolution failed", attrs...)
	}
	return nil
}
