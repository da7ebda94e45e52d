// Package auth verifies bearer tokens for both the HTTP and WebSocket
// surfaces. Verification is pluggable: against the identity provider over
// HTTP, or locally against a shared JWT secret.
package auth

import (
	"context"

	"github.com/chatsvc/internal/model"
)

// Verifier resolves a bearer token to the authenticated user. A failed
// verification returns an unauthorized application error.
type Verifier interface {
	Verify(ctx context.Context, token string) (*model.User, error)
}
