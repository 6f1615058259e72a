// Package truststore holds the types shared by trust store implementations:
// the stored record, token hashing and the sentinel errors that mark an
// expected rejection.
//
// Tokens are never stored in plaintext; stores key records by client id
// and the hex SHA-256 of the token.
package truststore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rhuss/principal/pkg/auth"
)

// Sentinel errors for trust store lookups. All three are expected
// rejections rather than store failures.
var (
	// ErrNotFound is returned when no record matches the credential.
	ErrNotFound = errors.New("credential not trusted")

	// ErrExpired is returned when the matching record has expired.
	ErrExpired = errors.New("credential expired")

	// ErrRevoked is returned when the matching record was revoked.
	ErrRevoked = errors.New("credential revoked")
)

// IsRejection reports whether err means the store refused the credential,
// as opposed to failing to answer.
func IsRejection(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) || errors.Is(err, ErrRevoked)
}

// Store is implemented by every trust store. LookupRecord exposes the
// matched record so wrappers can honor its expiry; both methods return the
// same sentinel errors.
type Store interface {
	Lookup(ctx context.Context, cred auth.Credential) (*auth.User, error)
	LookupRecord(ctx context.Context, cred auth.Credential) (Record, error)
}

// Record is one trusted (client id, token) pair.
type Record struct {
	ClientID  string
	TokenHash string
	User      auth.User

	// ExpiresAt is the zero time for records that never expire.
	ExpiresAt time.Time
	Revoked   bool
}

// NewRecord hashes token and builds a record.
func NewRecord(clientID, token string, user auth.User, expiresAt time.Time) Record {
	return Record{
		ClientID:  clientID,
		TokenHash: HashToken(token),
		User:      user,
		ExpiresAt: expiresAt,
	}
}

// Check returns ErrRevoked or ErrExpired when the record must not be
// honored at now.
func (r Record) Check(now time.Time) error {
	if r.Revoked {
		return ErrRevoked
	}
	if !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// HashToken returns the hex SHA-256 of token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
