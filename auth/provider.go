// Package auth resolves inbound credentials to principals. A credential is
// either a token issued by the primary identity provider or a short-lived
// session token issued by the gateway itself.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned for missing, invalid, or expired credentials.
// Any other error from this package indicates an infrastructure failure and
// should be surfaced as a server error, not an authentication rejection.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is the authenticated identity resolved from a credential.
type Principal struct {
	ID   string // provider-issued subject identifier
	Name string // best-effort human-readable name
}

// IdentityProvider validates primary identity-provider credentials.
type IdentityProvider interface {
	Verify(ctx context.Context, token string) (*Principal, error)
	Name() string
}
