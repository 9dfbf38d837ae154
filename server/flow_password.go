package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oauth2-kit/storage"
)

// passwordFlow exchanges resource owner credentials for tokens. Bad user
// credentials surface as invalid_grant, after the client itself has
// authenticated, so the error cannot be used to probe user existence before
// proving client identity.
type passwordFlow struct {
	srv *Server
}

func (f *passwordFlow) GrantType() string { return GrantTypePassword }

func (f *passwordFlow) Exchange(ctx context.Context, req *TokenRequest) (Response, error) {
	if req.Username == "" || req.Password == "" {
		return nil, ErrInvalidRequest("username and password are required")
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

	userID, err := f.srv.handler.AuthenticateUser(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrDenied) || errors.Is(err, storage.ErrNotFound) {
			f.srv.Auditor.LogAuthFailure(client.ClientID, req.RemoteAddr, "resource owner authentication failed")
			return nil, ErrInvalidGrant("invalid resource owner credentials")
		}
		return nil, f.srv.storageError(err, "authenticate_user")
	}

	info, err := f.srv.handler.CreateOrUpdateAuthInfo(ctx, client.ClientID, userID, scope, "")
	if err != nil {
		return nil, f.srv.storageError(err, "create_or_update_auth_info")
	}

	return f.srv.issueToken(ctx, req, info, true)
}
