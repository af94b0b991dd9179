package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/passage-ai/passage/config"
)

func cfgWithDriver(driver string) config.StorageConfig {
	return config.StorageConfig{Driver: driver, DSN: ":memory:"}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeToken(principalID string, createdAt time.Time, ttl time.Duration) *SessionToken {
	return &SessionToken{
		ID:          uuid.New().String(),
		TokenHash:   uuid.New().String(), // any unique string works as a hash here
		PrincipalID: principalID,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(ttl),
	}
}

func TestSessionToken_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := makeToken("user-1", time.Now(), time.Hour)
	if err := s.CreateSessionToken(ctx, tok); err != nil {
		t.Fatalf("CreateSessionToken failed: %v", err)
	}

	got, err := s.GetSessionTokenByHash(ctx, tok.TokenHash)
	if err != nil {
		t.Fatalf("GetSessionTokenByHash failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected token, got nil")
	}
	if got.ID != tok.ID || got.PrincipalID != "user-1" {
		t.Errorf("unexpected token: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.ExpiresAt.IsZero() {
		t.Error("timestamps should round-trip")
	}
}

func TestSessionToken_MissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetSessionTokenByHash(context.Background(), "no-such-hash")
	if err != nil {
		t.Fatalf("expected nil error for missing token, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil token, got %+v", got)
	}
}

func TestSessionToken_DuplicateHashRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := makeToken("user-1", time.Now(), time.Hour)
	if err := s.CreateSessionToken(ctx, tok); err != nil {
		t.Fatal(err)
	}

	dup := makeToken("user-2", time.Now(), time.Hour)
	dup.TokenHash = tok.TokenHash
	if err := s.CreateSessionToken(ctx, dup); err == nil {
		t.Error("expected unique constraint violation for duplicate hash")
	}
}

func TestSessionToken_Revoke(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := makeToken("user-1", time.Now(), time.Hour)
	if err := s.CreateSessionToken(ctx, tok); err != nil {
		t.Fatal(err)
	}

	if err := s.RevokeSessionToken(ctx, tok.TokenHash); err != nil {
		t.Fatalf("RevokeSessionToken failed: %v", err)
	}

	got, err := s.GetSessionTokenByHash(ctx, tok.TokenHash)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("token should be gone after revocation")
	}

	// Revoking a missing token is not an error.
	if err := s.RevokeSessionToken(ctx, "no-such-hash"); err != nil {
		t.Errorf("revoking absent token should be a no-op, got %v", err)
	}
}

func TestSessionToken_PurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	expired := makeToken("user-1", now.Add(-2*time.Hour), time.Hour)
	live := makeToken("user-1", now, time.Hour)
	if err := s.CreateSessionToken(ctx, expired); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSessionToken(ctx, live); err != nil {
		t.Fatal(err)
	}

	n, err := s.PurgeExpiredSessionTokens(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpiredSessionTokens failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged token, got %d", n)
	}

	if got, _ := s.GetSessionTokenByHash(ctx, expired.TokenHash); got != nil {
		t.Error("expired token should have been purged")
	}
	if got, _ := s.GetSessionTokenByHash(ctx, live.TokenHash); got == nil {
		t.Error("live token should have survived the purge")
	}
}

func TestAuditEvents_LogAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := []*AuditEvent{
		{ID: uuid.New().String(), Action: "gateway.connect", PrincipalID: "user-1", ConnID: "c-1", CreatedAt: time.Now().Add(-2 * time.Minute)},
		{ID: uuid.New().String(), Action: "gateway.disconnect", PrincipalID: "user-1", ConnID: "c-1",
			Detail: json.RawMessage(`{"reason":"client_closed"}`), CreatedAt: time.Now().Add(-1 * time.Minute)},
		{ID: uuid.New().String(), Action: "token.issue", PrincipalID: "user-2", CreatedAt: time.Now()},
	}
	for _, e := range events {
		if err := s.LogAuditEvent(ctx, e); err != nil {
			t.Fatalf("LogAuditEvent failed: %v", err)
		}
	}

	got, err := s.ListAuditEvents(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListAuditEvents failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	// Newest first.
	if got[0].Action != "token.issue" {
		t.Errorf("expected newest event first, got %q", got[0].Action)
	}
	if got[2].Action != "gateway.connect" {
		t.Errorf("expected oldest event last, got %q", got[2].Action)
	}

	// Detail round-trips.
	var detail struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(got[1].Detail, &detail); err != nil {
		t.Fatalf("detail unmarshal failed: %v", err)
	}
	if detail.Reason != "client_closed" {
		t.Errorf("expected reason client_closed, got %q", detail.Reason)
	}
}

func TestAuditEvents_Pagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := &AuditEvent{
			ID:        uuid.New().String(),
			Action:    "gateway.connect",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := s.LogAuditEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	page1, err := s.ListAuditEvents(ctx, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	page2, err := s.ListAuditEvents(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 2 || len(page2) != 2 {
		t.Fatalf("expected 2 events per page, got %d and %d", len(page1), len(page2))
	}
	if page1[0].ID == page2[0].ID {
		t.Error("pages should not overlap")
	}
}

func TestAuditEvents_PurgeOld(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	old := &AuditEvent{ID: uuid.New().String(), Action: "gateway.connect", CreatedAt: now.Add(-40 * 24 * time.Hour)}
	recent := &AuditEvent{ID: uuid.New().String(), Action: "gateway.connect", CreatedAt: now}
	if err := s.LogAuditEvent(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.LogAuditEvent(ctx, recent); err != nil {
		t.Fatal(err)
	}

	n, err := s.PurgeOldAuditEvents(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeOldAuditEvents failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged event, got %d", n)
	}

	got, err := s.ListAuditEvents(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != recent.ID {
		t.Error("only the recent event should remain")
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestFactory_UnknownDriver(t *testing.T) {
	_, err := New(cfgWithDriver("mysql"))
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestFactory_SQLiteDefault(t *testing.T) {
	s, err := New(cfgWithDriver(""))
	if err != nil {
		t.Fatalf("expected sqlite fallback, got %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
