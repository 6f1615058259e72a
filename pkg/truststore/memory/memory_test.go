package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rhuss/principal/pkg/auth"
	"github.com/rhuss/principal/pkg/truststore"
)

func newTestStore() *Store {
	s := New()
	s.Add("cli-9", "abc123", auth.User{ID: "u1", Attributes: map[string]any{"name": "Alice"}}, time.Time{})
	s.Add("cli-2", "tok-2", auth.User{ID: "u2"}, time.Time{})
	return s
}

func TestLookup_Valid(t *testing.T) {
	s := newTestStore()

	u, err := s.Lookup(context.Background(), auth.Credential{Token: "abc123", ClientID: "cli-9"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if u.ID != "u1" || u.Attr("name") != "Alice" {
		t.Errorf("user = %+v, want u1/Alice", u)
	}
}

func TestLookup_ReturnsCopy(t *testing.T) {
	s := newTestStore()
	cred := auth.Credential{Token: "abc123", ClientID: "cli-9"}

	u, _ := s.Lookup(context.Background(), cred)
	u.Attributes["name"] = "Mallory"

	again, _ := s.Lookup(context.Background(), cred)
	if again.Attr("name") != "Alice" {
		t.Error("mutating a returned user changed the stored record")
	}
}

func TestLookup_WrongClient(t *testing.T) {
	s := newTestStore()

	_, err := s.Lookup(context.Background(), auth.Credential{Token: "abc123", ClientID: "cli-2"})
	if !errors.Is(err, truststore.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLookup_UnknownToken(t *testing.T) {
	s := newTestStore()

	_, err := s.Lookup(context.Background(), auth.Credential{Token: "nope", ClientID: "cli-9"})
	if !errors.Is(err, truststore.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLookup_Expired(t *testing.T) {
	s := New()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.Add("cli-9", "abc123", auth.User{ID: "u1"}, now.Add(-time.Minute))

	_, err := s.Lookup(context.Background(), auth.Credential{Token: "abc123", ClientID: "cli-9"})
	if !errors.Is(err, truststore.ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestRevoke(t *testing.T) {
	s := newTestStore()

	if !s.Revoke("cli-9", "abc123") {
		t.Fatal("Revoke returned false for existing record")
	}
	if s.Revoke("cli-9", "missing") {
		t.Error("Revoke returned true for missing record")
	}

	_, err := s.Lookup(context.Background(), auth.Credential{Token: "abc123", ClientID: "cli-9"})
	if !errors.Is(err, truststore.ErrRevoked) {
		t.Errorf("err = %v, want ErrRevoked", err)
	}
}

func TestPut_Replaces(t *testing.T) {
	s := newTestStore()
	s.Add("cli-9", "abc123", auth.User{ID: "u1-new"}, time.Time{})

	u, err := s.Lookup(context.Background(), auth.Credential{Token: "abc123", ClientID: "cli-9"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if u.ID != "u1-new" {
		t.Errorf("ID = %q, want replaced record", u.ID)
	}
	if n := len(s.records["cli-9"]); n != 1 {
		t.Errorf("records for cli-9 = %d, want 1", n)
	}
}

func TestLookupRecord_CarriesExpiry(t *testing.T) {
	s := New()
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)
	s.Add("cli-9", "abc123", auth.User{ID: "u1"}, expiresAt)

	rec, err := s.LookupRecord(context.Background(), auth.Credential{Token: "abc123", ClientID: "cli-9"})
	if err != nil {
		t.Fatalf("LookupRecord: %v", err)
	}
	if !rec.ExpiresAt.Equal(expiresAt) || rec.User.ID != "u1" {
		t.Errorf("record = %+v, want u1 expiring at %v", rec, expiresAt)
	}
	if rec.TokenHash != truststore.HashToken("abc123") {
		t.Errorf("token hash = %q", rec.TokenHash)
	}
}
