package auth

import (
	"context"
	"time"
)

// Identity is the resolved principal behind a verified credential.
type Identity struct {
	UserID      string
	DisplayName string
}

// Verifier resolves an opaque bearer token to an Identity.
//
// Implementations must treat the token as secret material: never log it,
// never store it in plaintext.
type Verifier interface {
	Verify(ctx context.Context, token string, now time.Time) (Identity, error)
}
