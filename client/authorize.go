package client

import (
	"net/url"
	"strings"

	oauth "github.com/giantswarm/oauth2-kit"
)

// AuthCodeURL builds the URL to send a resource owner to for the web-server
// flow. After approval the server redirects back to redirectURI with code
// (and state, echoed verbatim) in the query; redeem the code with
// ExchangeCode. state guards the redirect against forgery and is the
// caller's to mint and verify.
func (c *Client) AuthCodeURL(redirectURI, scope, state string) string {
	return c.authorizeURL(oauth.ResponseTypeCode, redirectURI, scope, state)
}

// ImplicitURL builds the URL to send a resource owner to for the user-agent
// flow. After approval the server redirects back with the access token in
// the URL fragment; there is nothing to exchange.
func (c *Client) ImplicitURL(redirectURI, scope, state string) string {
	return c.authorizeURL(oauth.ResponseTypeToken, redirectURI, scope, state)
}

func (c *Client) authorizeURL(responseType, redirectURI, scope, state string) string {
	var buf strings.Builder
	buf.WriteString(c.AuthorizationURL)

	params := url.Values{}
	params.Set("response_type", responseType)
	params.Set("client_id", c.ID)
	params.Set("redirect_uri", redirectURI)
	setOptional(params, "scope", scope)
	setOptional(params, "state", state)

	if strings.Contains(c.AuthorizationURL, "?") {
		buf.WriteByte('&')
	} else {
		buf.WriteByte('?')
	}
	buf.WriteString(params.Encode())
	return buf.String()
}
