package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oauth2-kit/storage"
)

// authorizationCodeFlow exchanges a single-use authorization code for
// tokens. The code is consumed via MarkAuthInfoUsed before any token is
// minted, so a concurrent replay observes the used state and gets
// invalid_grant.
type authorizationCodeFlow struct {
	srv *Server
}

func (f *authorizationCodeFlow) GrantType() string { return GrantTypeAuthorizationCode }

func (f *authorizationCodeFlow) Exchange(ctx context.Context, req *TokenRequest) (Response, error) {
	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}
	if req.RedirectURI == "" {
		return nil, ErrInvalidRequest("redirect_uri is required")
	}

	client, err := f.srv.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := f.srv.authorizeGrantType(client, req); err != nil {
		return nil, err
	}

	info, err := f.srv.handler.GetAuthInfoByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant("invalid authorization code")
		}
		return nil, f.srv.storageError(err, "get_auth_info_by_code")
	}

	// The grant must belong to the authenticated client. A mismatch is a
	// stolen or misdirected code, not a storage miss.
	if info.ClientID != client.ClientID {
		f.srv.Auditor.LogAuthFailure(client.ClientID, req.RemoteAddr, "authorization code issued to another client")
		f.srv.Logger.Warn("authorization code presented by wrong client",
			"client_id", client.ClientID,
			"code_prefix", safeTruncate(req.Code, 8))
		return nil, ErrInvalidGrant("authorization code was not issued to this client")
	}

	if info.CodeExpired(req.Now) {
		return nil, ErrInvalidGrant("authorization code expired")
	}

	// The code exchange must present the redirect URI the code was bound
	// to. Grants minted without one (password, device) skip the check.
	if info.RedirectURI != "" && info.RedirectURI != req.RedirectURI {
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	if err := f.srv.handler.MarkAuthInfoUsed(ctx, info.ID); err != nil {
		if errors.Is(err, storage.ErrGrantUsed) {
			f.srv.Auditor.LogCodeReuse(client.ClientID, req.RemoteAddr)
			return nil, ErrInvalidGrant("authorization code already used")
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant("invalid authorization code")
		}
		return nil, f.srv.storageError(err, "mark_auth_info_used")
	}

	return f.srv.issueToken(ctx, req, info, true)
}
