package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/passage-ai/passage/store"
)

// Issuer mints short-lived session tokens for principals that have already
// authenticated with the primary identity provider.
type Issuer struct {
	store      store.Store
	ttl        time.Duration
	tokenBytes int
}

// NewIssuer creates an Issuer. tokenBytes is the entropy per token.
func NewIssuer(s store.Store, ttl time.Duration, tokenBytes int) *Issuer {
	if tokenBytes <= 0 {
		tokenBytes = 32
	}
	return &Issuer{store: s, ttl: ttl, tokenBytes: tokenBytes}
}

// Issue generates a random token for the principal, stores its hash, and
// returns the raw token. The raw token is never persisted and cannot be
// recovered later.
func (i *Issuer) Issue(ctx context.Context, principal *Principal) (string, *store.SessionToken, error) {
	b := make([]byte, i.tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("generate session token: %w", err)
	}
	raw := hex.EncodeToString(b)

	now := time.Now()
	tok := &store.SessionToken{
		ID:          uuid.New().String(),
		TokenHash:   HashToken(raw),
		PrincipalID: principal.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(i.ttl),
	}
	if err := i.store.CreateSessionToken(ctx, tok); err != nil {
		return "", nil, fmt.Errorf("store session token: %w", err)
	}
	return raw, tok, nil
}

// Revoke deletes the session token matching the raw token, if any.
func (i *Issuer) Revoke(ctx context.Context, raw string) error {
	return i.store.RevokeSessionToken(ctx, HashToken(raw))
}

// TTL returns the configured session-token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }
