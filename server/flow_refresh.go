package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oauth2-kit/storage"
)

// refreshTokenFlow trades a refresh token for a fresh access token. The
// requested scope may only narrow the original grant; whether the refresh
// token itself rotates is the Data Handler's policy, observed by re-reading
// the grant after the token is minted.
type refreshTokenFlow struct {
	srv *Server
}

func (f *refreshTokenFlow) GrantType() string { return GrantTypeRefreshToken }

func (f *refreshTokenFlow) Exchange(ctx context.Context, req *TokenRequest) (Response, error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	client, err := f.srv.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := f.srv.authorizeGrantType(client, req); err != nil {
		return nil, err
	}
	scope, err := f.srv.resolveScope(ctx, client, req.Scope)
	if err != nil {
		return nil, err
	}

	info, err := f.srv.handler.GetAuthInfoByRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant("invalid refresh token")
		}
		return nil, f.srv.storageError(err, "get_auth_info_by_refresh_token")
	}

	if info.ClientID != client.ClientID {
		f.srv.Auditor.LogAuthFailure(client.ClientID, req.RemoteAddr, "refresh token issued to another client")
		return nil, ErrInvalidGrant("refresh token was not issued to this client")
	}

	// A refresh may narrow the granted scope, never widen it.
	if scope != "" {
		if !storage.ScopeSubset(scope, info.Scope) {
			f.srv.Auditor.LogScopeEscalation(client.ClientID, req.RemoteAddr, scope, info.Scope)
			return nil, ErrInvalidScope("requested scope exceeds the original grant")
		}
		info.Scope = scope
	}

	token, err := f.srv.handler.CreateOrUpdateAccessToken(ctx, info)
	if err != nil {
		return nil, f.srv.storageError(err, "create_or_update_access_token")
	}

	// Re-read the grant to observe rotation: a rotated refresh token must
	// reach the client, an unrotated one is kept silent.
	fresh, err := f.srv.handler.GetAuthInfoByID(ctx, info.ID)
	if err != nil {
		return nil, f.srv.storageError(err, "get_auth_info_by_id")
	}
	rotated := fresh.RefreshToken != req.RefreshToken

	f.srv.Auditor.LogTokenRefreshed(client.ClientID, info.UserID, req.RemoteAddr, rotated)

	resp := &TokenResponse{
		TokenType:   TokenTypeBearer,
		AccessToken: token.Token,
		ExpiresIn:   token.ExpiresIn,
		Scope:       info.Scope,
	}
	if rotated {
		resp.RefreshToken = fresh.RefreshToken
	}
	return resp, nil
}
