package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/passage-ai/passage/store"
)

// fakeIDP accepts exactly one credential and rejects everything else.
type fakeIDP struct {
	token     string
	principal *Principal
}

func (f *fakeIDP) Verify(ctx context.Context, token string) (*Principal, error) {
	if token == f.token {
		return f.principal, nil
	}
	return nil, ErrUnauthorized
}

func (f *fakeIDP) Name() string { return "fake" }

// failingStore simulates a degraded database.
type failingStore struct {
	store.Store
}

func (f *failingStore) GetSessionTokenByHash(ctx context.Context, hash string) (*store.SessionToken, error) {
	return nil, errors.New("connection refused")
}

func newTestVerifier(t *testing.T, ttl time.Duration) (*Verifier, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	idp := &fakeIDP{token: "idp-credential", principal: &Principal{ID: "user-1", Name: "Alice"}}
	return NewVerifier(idp, s, ttl), s
}

func seedSessionToken(t *testing.T, s store.Store, raw, principalID string, createdAt time.Time, ttl time.Duration) {
	t.Helper()
	err := s.CreateSessionToken(context.Background(), &store.SessionToken{
		ID:          uuid.New().String(),
		TokenHash:   HashToken(raw),
		PrincipalID: principalID,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(ttl),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestVerify_EmptyToken(t *testing.T) {
	v, _ := newTestVerifier(t, time.Hour)
	_, err := v.Verify(context.Background(), "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerify_PrimaryCredential(t *testing.T) {
	v, _ := newTestVerifier(t, time.Hour)
	p, err := v.Verify(context.Background(), "idp-credential")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if p.ID != "user-1" || p.Name != "Alice" {
		t.Errorf("unexpected principal: %+v", p)
	}
}

func TestVerify_SessionTokenFallback(t *testing.T) {
	v, s := newTestVerifier(t, time.Hour)
	seedSessionToken(t, s, "session-raw", "user-2", time.Now(), time.Hour)

	p, err := v.Verify(context.Background(), "session-raw")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if p.ID != "user-2" {
		t.Errorf("expected principal user-2, got %q", p.ID)
	}
}

func TestVerify_UnknownToken(t *testing.T) {
	v, _ := newTestVerifier(t, time.Hour)
	_, err := v.Verify(context.Background(), "never-issued")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerify_ExpiredSessionToken(t *testing.T) {
	ttl := time.Hour
	v, s := newTestVerifier(t, ttl)

	// Created exactly ttl ago: the boundary is exclusive, so this is expired.
	seedSessionToken(t, s, "boundary-token", "user-3", time.Now().Add(-ttl), ttl)
	_, err := v.Verify(context.Background(), "boundary-token")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized at the ttl boundary, got %v", err)
	}

	// Well past the ttl: indistinguishable from an unknown token.
	seedSessionToken(t, s, "stale-token", "user-3", time.Now().Add(-2*ttl), ttl)
	_, err = v.Verify(context.Background(), "stale-token")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for stale token, got %v", err)
	}
}

func TestVerify_ExpiredTokenNotDeleted(t *testing.T) {
	ttl := time.Hour
	v, s := newTestVerifier(t, ttl)
	seedSessionToken(t, s, "stale-token", "user-3", time.Now().Add(-2*ttl), ttl)

	_, _ = v.Verify(context.Background(), "stale-token")

	// Verification is a pure lookup; the record stays until purged.
	tok, err := s.GetSessionTokenByHash(context.Background(), HashToken("stale-token"))
	if err != nil {
		t.Fatal(err)
	}
	if tok == nil {
		t.Error("expired token should remain in the store after verification")
	}
}

func TestVerify_StoreFailureIsNotUnauthorized(t *testing.T) {
	idp := &fakeIDP{token: "idp-credential"}
	v := NewVerifier(idp, &failingStore{}, time.Hour)

	_, err := v.Verify(context.Background(), "some-session-token")
	if err == nil {
		t.Fatal("expected an error from the degraded store")
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Error("store failure must not be reported as a credential failure")
	}
}

func TestIssueAndVerify_RoundTrip(t *testing.T) {
	v, s := newTestVerifier(t, time.Hour)
	issuer := NewIssuer(s, time.Hour, 32)

	raw, tok, err := issuer.Issue(context.Background(), &Principal{ID: "user-9", Name: "Bob"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if raw == "" {
		t.Fatal("expected a non-empty raw token")
	}
	if tok.TokenHash == raw {
		t.Error("stored hash must differ from the raw token")
	}

	p, err := v.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if p.ID != "user-9" {
		t.Errorf("expected principal user-9, got %q", p.ID)
	}
}

func TestIssue_TokensAreUnique(t *testing.T) {
	_, s := newTestVerifier(t, time.Hour)
	issuer := NewIssuer(s, time.Hour, 32)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		raw, _, err := issuer.Issue(context.Background(), &Principal{ID: "user-9"})
		if err != nil {
			t.Fatal(err)
		}
		if seen[raw] {
			t.Fatal("issued a duplicate token")
		}
		seen[raw] = true
	}
}

func TestRevoke(t *testing.T) {
	v, s := newTestVerifier(t, time.Hour)
	issuer := NewIssuer(s, time.Hour, 32)

	raw, _, err := issuer.Issue(context.Background(), &Principal{ID: "user-9"})
	if err != nil {
		t.Fatal(err)
	}

	if err := issuer.Revoke(context.Background(), raw); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	_, err = v.Verify(context.Background(), raw)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized after revocation, got %v", err)
	}

	// Revoking an already-revoked token is not an error.
	if err := issuer.Revoke(context.Background(), raw); err != nil {
		t.Errorf("second Revoke should be a no-op, got %v", err)
	}
}

func TestHashToken(t *testing.T) {
	a := HashToken("abc")
	b := HashToken("abc")
	if a != b {
		t.Error("HashToken must be deterministic")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if HashToken("abd") == a {
		t.Error("different inputs must hash differently")
	}
}
