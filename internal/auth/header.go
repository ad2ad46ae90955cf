package auth

import (
	"net/http"

	"github.com/debemdeboas/postdeck/internal/model"
)

// HeaderAuthProvider trusts a user id header set by a fronting proxy, falling back to a
// fixed development user when one is configured.
type HeaderAuthProvider struct {
	ContextIdentity

	headerName  string
	defaultUser model.UserID
}

func NewHeaderAuthProvider(headerName string, defaultUser model.UserID) *HeaderAuthProvider {
	if headerName == "" {
		headerName = "X-User-Id"
	}
	return &HeaderAuthProvider{headerName: headerName, defaultUser: defaultUser}
}

func (h *HeaderAuthProvider) WithHeaderAuthorization() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := model.UserID(r.Header.Get(h.headerName))
			if id == "" {
				id = h.defaultUser
			}
			if id != "" {
				r = r.WithContext(ContextWithUserId(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}
