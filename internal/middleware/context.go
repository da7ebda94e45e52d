package middleware

import (
	"context"

	"github.com/chatsvc/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal stores the authenticated user on the request context.
func WithPrincipal(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, principalKey, u)
}

// Principal returns the authenticated user from the context, or nil on an
// unauthenticated request.
func Principal(ctx context.Context) *model.User {
	u, _ := ctx.Value(principalKey).(*model.User)
	return u
}
