package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/passage-ai/passage/store"
)

// Verifier resolves a credential against two authorities: the primary
// identity provider first, then the gateway's own session-token store.
// Verification is a pure lookup; it never mutates the store.
type Verifier struct {
	idp   IdentityProvider
	store store.Store
	ttl   time.Duration
}

// NewVerifier creates a Verifier. ttl bounds the acceptable age of a session
// token counted from its creation time.
func NewVerifier(idp IdentityProvider, s store.Store, ttl time.Duration) *Verifier {
	return &Verifier{idp: idp, store: s, ttl: ttl}
}

// Verify resolves token to a principal. It returns ErrUnauthorized when the
// credential is missing, unparseable, unknown, or expired. Store failures are
// returned wrapped so callers can distinguish a degraded system from a bad
// credential.
func (v *Verifier) Verify(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	// Primary authority: identity-provider credential.
	if principal, err := v.idp.Verify(ctx, token); err == nil {
		return principal, nil
	}

	// Fallback: gateway-issued session token, matched by hash.
	tok, err := v.store.GetSessionTokenByHash(ctx, HashToken(token))
	if err != nil {
		return nil, fmt.Errorf("session token lookup: %w", err)
	}
	if tok == nil {
		return nil, ErrUnauthorized
	}
	if time.Since(tok.CreatedAt) >= v.ttl {
		return nil, ErrUnauthorized
	}

	return &Principal{ID: tok.PrincipalID, Name: tok.PrincipalID}, nil
}

// HashToken returns the hex-encoded SHA-256 of a raw token. Raw session
// tokens are never stored.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
