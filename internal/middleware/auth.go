package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatsvc/internal/apperr"
	"github.com/chatsvc/internal/auth"
	"github.com/chatsvc/internal/logger"
	"github.com/chatsvc/internal/model"
)

// ErrorWriter formats and sends a wire error response. Implemented by the
// handler layer's responder so middleware failures leave the service in the
// same envelope as handler failures.
type ErrorWriter interface {
	WriteError(w http.ResponseWriter, r *http.Request, err error)
}

// PrincipalSyncer records the verified principal locally.
type PrincipalSyncer interface {
	Sync(ctx context.Context, u *model.User) error
}

// BearerToken extracts the bearer token from a request, falling back to the
// access_token query parameter for clients that cannot set headers.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("access_token")
}

// Authenticate verifies the bearer token, keeps the local user record in
// sync with the principal, and stores it on the context.
func Authenticate(verifier auth.Verifier, sync PrincipalSyncer, errs ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				errs.WriteError(w, r, apperr.Unauthorized("missing bearer token", nil))
				return
			}
			user, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Infof("auth rejected token=%s: %v", MaskToken(token), err)
				errs.WriteError(w, r, err)
				return
			}
			if err := sync.Sync(r.Context(), user); err != nil {
				errs.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), user)))
		})
	}
}
