package auth

import (
	"context"

	"github.com/debemdeboas/postdeck/internal/model"
)

type userKey struct{}

// ContextWithUserId returns ctx carrying the authenticated user.
func ContextWithUserId(ctx context.Context, userID model.UserID) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserIdFromContext reports the authenticated user, if any. An empty id counts as none.
func UserIdFromContext(ctx context.Context) (model.UserID, bool) {
	userID, ok := ctx.Value(userKey{}).(model.UserID)
	return userID, ok && userID != ""
}
