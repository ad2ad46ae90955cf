package auth

import (
	"context"
	"net/http"

	"github.com/clerk/clerk-sdk-go/v2"
	clerkhttp "github.com/clerk/clerk-sdk-go/v2/http"

	"github.com/debemdeboas/postdeck/internal/model"
)

type ClerkAuthProvider struct {
	ContextIdentity

	cookieExtractor clerkhttp.AuthorizationOption
}

func NewClerkAuthProvider(clerkKey string) *ClerkAuthProvider {
	clerk.SetKey(clerkKey)

	return &ClerkAuthProvider{
		cookieExtractor: clerkhttp.AuthorizationJWTExtractor(func(r *http.Request) string {
			cookie, err := r.Cookie("__session")
			if err != nil || cookie == nil {
				return ""
			}
			return cookie.Value
		}),
	}
}

func (c *ClerkAuthProvider) WithHeaderAuthorization() func(http.Handler) http.Handler {
	verify := clerkhttp.WithHeaderAuthorization(c.cookieExtractor)

	return func(next http.Handler) http.Handler {
		withUser := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := userFromClaims(r.Context()); ok {
				r = r.WithContext(ContextWithUserId(r.Context(), id))
			} else {
				authLogger.Debug().Str("path", r.URL.Path).Msg("No session claims on request")
			}
			next.ServeHTTP(w, r)
		})
		return verify(withUser)
	}
}

func userFromClaims(ctx context.Context) (model.UserID, bool) {
	claims, ok := clerk.SessionClaimsFromContext(ctx)
	if !ok || claims.Subject == "" {
		return "", false
	}
	return model.UserID(claims.Subject), true
}
