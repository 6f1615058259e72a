// Package postgres provides a PostgreSQL trust store. Records are keyed by
// (client_id, token_hash); the identity is kept as JSONB so that attributes
// round-trip unchanged.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/principal/pkg/auth"
	"github.com/rhuss/principal/pkg/truststore"
)

var _ truststore.Store = (*Store)(nil)

// Store is a PostgreSQL-backed trust store.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New connects to PostgreSQL and, if configured, applies migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool, now: time.Now}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// Put inserts or replaces the record for (rec.ClientID, rec.TokenHash).
func (s *Store) Put(ctx context.Context, rec truststore.Record) error {
	if rec.User.ID == "" {
		return errors.New("trusted identity must have an id")
	}
	identity, err := json.Marshal(rec.User)
	if err != nil {
		return fmt.Errorf("marshaling identity: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO trusted_tokens (client_id, token_hash, user_id, identity, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (client_id, token_hash) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			identity = EXCLUDED.identity,
			expires_at = EXCLUDED.expires_at,
			revoked = EXCLUDED.revoked
	`,
		rec.ClientID, rec.TokenHash, rec.User.ID, identity, nullTime(rec.ExpiresAt), rec.Revoked,
	)
	if err != nil {
		return fmt.Errorf("storing trusted token: %w", err)
	}
	return nil
}

// Add trusts token for clientID until expiresAt (zero = forever).
func (s *Store) Add(ctx context.Context, clientID, token string, user auth.User, expiresAt time.Time) error {
	return s.Put(ctx, truststore.NewRecord(clientID, token, user, expiresAt))
}

// Revoke marks the record for (clientID, token) revoked. Returns
// truststore.ErrNotFound if there is no such record.
func (s *Store) Revoke(ctx context.Context, clientID, token string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE trusted_tokens SET revoked = true WHERE client_id = $1 AND token_hash = $2",
		clientID, truststore.HashToken(token),
	)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return truststore.ErrNotFound
	}
	return nil
}

// Lookup returns the user trusted for cred.
func (s *Store) Lookup(ctx context.Context, cred auth.Credential) (*auth.User, error) {
	rec, err := s.LookupRecord(ctx, cred)
	if err != nil {
		return nil, err
	}
	return &rec.User, nil
}

// LookupRecord returns the honored record for cred. Expired and revoked
// rows yield the truststore sentinels.
func (s *Store) LookupRecord(ctx context.Context, cred auth.Credential) (truststore.Record, error) {
	rec := truststore.Record{ClientID: cred.ClientID, TokenHash: truststore.HashToken(cred.Token)}

	var (
		identity  []byte
		expiresAt *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT identity, expires_at, revoked
		FROM trusted_tokens
		WHERE client_id = $1 AND token_hash = $2
	`, rec.ClientID, rec.TokenHash).Scan(&identity, &expiresAt, &rec.Revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return truststore.Record{}, truststore.ErrNotFound
	}
	if err != nil {
		return truststore.Record{}, fmt.Errorf("querying trusted token: %w", err)
	}
	if expiresAt != nil {
		rec.ExpiresAt = *expiresAt
	}

	if err := rec.Check(s.now()); err != nil {
		return truststore.Record{}, err
	}

	if err := json.Unmarshal(identity, &rec.User); err != nil {
		return truststore.Record{}, fmt.Errorf("unmarshaling identity: %w", err)
	}
	return rec, nil
}

// PurgeExpired deletes records that expired before now and returns how
// many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM trusted_tokens WHERE expires_at IS NOT NULL AND expires_at <= $1",
		s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HealthCheck verifies database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
