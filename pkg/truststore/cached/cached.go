// Package cached wraps a trust store with an expiring LRU of successful
// lookups. Rejections and failures always go to the underlying store.
//
// Cached records are checked against their own expiry on every hit, so an
// entry never outlives the record. A revoked credential keeps resolving
// until its cache entry expires or Invalidate is called for it.
package cached

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rhuss/principal/pkg/auth"
	"github.com/rhuss/principal/pkg/observability"
	"github.com/rhuss/principal/pkg/truststore"
)

// Defaults for New.
const (
	DefaultSize = 1024
	DefaultTTL  = time.Minute
)

// Store caches successful lookups of an inner store.
type Store struct {
	inner truststore.Store
	cache *expirable.LRU[string, truststore.Record]
	now   func() time.Time
}

var _ truststore.Store = (*Store)(nil)

// New wraps inner. Non-positive size or ttl select the defaults.
func New(inner truststore.Store, size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		inner: inner,
		cache: expirable.NewLRU[string, truststore.Record](size, nil, ttl),
		now:   time.Now,
	}
}

// Lookup returns a copy of the user trusted for cred.
func (s *Store) Lookup(ctx context.Context, cred auth.Credential) (*auth.User, error) {
	rec, err := s.LookupRecord(ctx, cred)
	if err != nil {
		return nil, err
	}
	return &rec.User, nil
}

// LookupRecord serves cred from the cache or asks the inner store, caching
// the record when it is honored.
func (s *Store) LookupRecord(ctx context.Context, cred auth.Credential) (truststore.Record, error) {
	k := key(cred.ClientID, cred.Token)

	if rec, ok := s.cache.Get(k); ok {
		if err := rec.Check(s.now()); err != nil {
			s.cache.Remove(k)
			observability.TrustCacheLookupsTotal.WithLabelValues("stale").Inc()
			return truststore.Record{}, err
		}
		observability.TrustCacheLookupsTotal.WithLabelValues("hit").Inc()
		return clone(rec), nil
	}
	observability.TrustCacheLookupsTotal.WithLabelValues("miss").Inc()

	rec, err := s.inner.LookupRecord(ctx, cred)
	if err != nil {
		return truststore.Record{}, err
	}
	s.cache.Add(k, clone(rec))
	return rec, nil
}

func clone(rec truststore.Record) truststore.Record {
	rec.User = *rec.User.Clone()
	return rec
}

// Invalidate drops the cached entry for (clientID, token).
func (s *Store) Invalidate(clientID, token string) {
	s.cache.Remove(key(clientID, token))
}

// Purge empties the cache.
func (s *Store) Purge() {
	s.cache.Purge()
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	return s.cache.Len()
}

// key never contains the plaintext token.
func key(clientID, token string) string {
	return clientID + "\x00" + truststore.HashToken(token)
}
