// Package auth resolves the current user of a request.
package auth

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/debemdeboas/postdeck/internal/model"
)

var authLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	authLogger = l
}

// Identity supplies the current user id, if any.
type Identity interface {
	CurrentUserId(ctx context.Context) (model.UserID, bool)
}

type AuthProvider interface {
	Identity

	// WithHeaderAuthorization authenticates the request and stores the user id in its context.
	WithHeaderAuthorization() func(http.Handler) http.Handler
}

// ContextIdentity reads the user id placed in the context by an AuthProvider middleware.
type ContextIdentity struct{}

func (ContextIdentity) CurrentUserId(ctx context.Context) (model.UserID, bool) {
	return UserIdFromContext(ctx)
}

// RequireUser rejects requests without an authenticated user.
func RequireUser(identity Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := identity.CurrentUserId(r.Context()); !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
