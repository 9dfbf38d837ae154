package oauth

import (
	"context"

	"github.com/giantswarm/oauth2-kit/storage"
)

// Context keys for values the library attaches to requests.
type contextKey string

const (
	accessTokenKey contextKey = "access_token"
	authInfoKey    contextKey = "auth_info"
	userIDKey      contextKey = "user_id"
)

// TokenFromContext retrieves the validated access token the guard attached.
func TokenFromContext(ctx context.Context) (*storage.AccessToken, bool) {
	token, ok := ctx.Value(accessTokenKey).(*storage.AccessToken)
	return token, ok
}

// AuthInfoFromContext retrieves the grant behind the validated token.
func AuthInfoFromContext(ctx context.Context) (*storage.AuthInfo, bool) {
	info, ok := ctx.Value(authInfoKey).(*storage.AuthInfo)
	return info, ok
}

// contextWithToken attaches the validated token and its grant. Only the
// guard sets these after validation succeeds.
func contextWithToken(ctx context.Context, token *storage.AccessToken, info *storage.AuthInfo) context.Context {
	ctx = context.WithValue(ctx, accessTokenKey, token)
	return context.WithValue(ctx, authInfoKey, info)
}

// ContextWithUserID attaches the authenticated resource owner's identifier.
// Hosts that authenticate users with their own middleware set this before
// the end-user endpoint runs; Config.Authenticator is consulted first when
// configured.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the authenticated resource owner's identifier.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}
