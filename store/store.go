// Package store defines the storage interface for the gateway and provides
// SQLite and PostgreSQL implementations. It holds session tokens and the
// connection audit trail; no conversation content is ever persisted here.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the persistence interface for the gateway.
type Store interface {
	// Session tokens
	CreateSessionToken(ctx context.Context, tok *SessionToken) error
	GetSessionTokenByHash(ctx context.Context, tokenHash string) (*SessionToken, error)
	RevokeSessionToken(ctx context.Context, tokenHash string) error
	PurgeExpiredSessionTokens(ctx context.Context, before time.Time) (int64, error)

	// Audit
	LogAuditEvent(ctx context.Context, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, limit, offset int) ([]AuditEvent, error)
	PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// SessionToken is a short-lived, gateway-issued credential. Only the SHA-256
// hash of the raw token is stored.
type SessionToken struct {
	ID          string    `json:"id"`
	TokenHash   string    `json:"-"`
	PrincipalID string    `json:"principal_id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuditEvent records a gateway lifecycle action for operators.
type AuditEvent struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"` // e.g. "gateway.connect", "gateway.disconnect"
	PrincipalID string          `json:"principal_id,omitempty"`
	ConnID      string          `json:"conn_id,omitempty"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
