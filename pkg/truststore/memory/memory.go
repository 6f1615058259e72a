// Package memory provides an in-memory trust store for tests and static
// deployments where trusted tokens come from configuration. Token hashes
// are compared in constant time.
package memory

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/rhuss/principal/pkg/auth"
	"github.com/rhuss/principal/pkg/truststore"
)

var _ truststore.Store = (*Store)(nil)

// Store is an in-memory trust store keyed by client id.
type Store struct {
	mu      sync.RWMutex
	records map[string][]*truststore.Record
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records: make(map[string][]*truststore.Record),
		now:     time.Now,
	}
}

// Add trusts token for clientID until expiresAt (zero = forever).
func (s *Store) Add(clientID, token string, user auth.User, expiresAt time.Time) {
	s.Put(truststore.NewRecord(clientID, token, user, expiresAt))
}

// Put stores rec, replacing any record with the same client id and hash.
func (s *Store) Put(rec truststore.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[rec.ClientID]
	for i, existing := range recs {
		if existing.TokenHash == rec.TokenHash {
			recs[i] = &rec
			return
		}
	}
	s.records[rec.ClientID] = append(recs, &rec)
}

// Revoke marks the record for (clientID, token) revoked. Returns false if
// no such record exists.
func (s *Store) Revoke(clientID, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec := s.find(clientID, truststore.HashToken(token)); rec != nil {
		rec.Revoked = true
		return true
	}
	return false
}

// Lookup returns a copy of the user trusted for cred.
func (s *Store) Lookup(ctx context.Context, cred auth.Credential) (*auth.User, error) {
	rec, err := s.LookupRecord(ctx, cred)
	if err != nil {
		return nil, err
	}
	return &rec.User, nil
}

// LookupRecord returns a copy of the honored record for cred.
func (s *Store) LookupRecord(_ context.Context, cred auth.Credential) (truststore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.find(cred.ClientID, truststore.HashToken(cred.Token))
	if rec == nil {
		return truststore.Record{}, truststore.ErrNotFound
	}
	if err := rec.Check(s.now()); err != nil {
		return truststore.Record{}, err
	}
	out := *rec
	out.User = *rec.User.Clone()
	return out, nil
}

// find must be called with the lock held.
func (s *Store) find(clientID, hash string) *truststore.Record {
	for _, rec := range s.records[clientID] {
		if subtle.ConstantTimeCompare([]byte(rec.TokenHash), []byte(hash)) == 1 {
			return rec
		}
	}
	return nil
}
