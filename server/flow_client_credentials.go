package server

import "context"

// clientCredentialsFlow issues tokens for the client's own authority. The
// grant has no resource owner, so the grant record carries an empty user and
// the response never includes a refresh token.
type clientCredentialsFlow struct {
	srv *Server
}

func (f *clientCredentialsFlow) GrantType() string { return GrantTypeClientCredentials }

func (f *clientCredentialsFlow) Exchange(ctx context.Context, req *TokenRequest) (Response, error) {
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

	info, err := f.srv.handler.CreateOrUpdateAuthInfo(ctx, client.ClientID, "", scope, "")
	if err != nil {
		return nil, f.srv.storageError(err, "create_or_update_auth_info")
	}

	return f.srv.issueToken(ctx, req, info, false)
}
