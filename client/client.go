package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	oauth "github.com/giantswarm/oauth2-kit"
)

// defaultTimeout bounds a token endpoint call when neither the caller's
// context nor the configured HTTP client carries a deadline.
const defaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a token endpoint response is read.
// Legitimate responses are a few hundred bytes.
const maxResponseBytes = 1 << 20

// redactedValue replaces secrets in diagnostic snapshots.
const redactedValue = "(redacted)"

// Client calls a token endpoint speaking this package's draft-era protocol.
// The zero value is not usable: ID and TokenURL must be set. Methods are safe
// for concurrent use; the Client must not be copied after first use.
type Client struct {
	// ID is the client identifier registered at the authorization server.
	ID string

	// Secret authenticates the client. Leave empty for public clients.
	Secret string

	// TokenURL is the token endpoint.
	TokenURL string

	// AuthorizationURL is the end-user authorization endpoint. It is only
	// consulted by AuthCodeURL and ImplicitURL.
	AuthorizationURL string

	// HTTPClient overrides the transport used for token endpoint calls.
	// When nil, a client with a 30 second timeout is used.
	HTTPClient *http.Client

	mu   sync.Mutex
	last *Exchange
}

// TransportError reports that a token endpoint call failed before the server
// produced a protocol verdict: the request could not be built or sent, the
// response could not be read, or its payload was not a recognizable protocol
// message. Protocol rejections are returned as [oauth.Error] instead.
type TransportError struct {
	// Op names the phase that failed: "request", "round trip", "read
	// response", or "decode".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("oauth transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Exchange is a diagnostic snapshot of one token endpoint call. Secrets in
// the form are redacted. Snapshots are immutable once taken.
type Exchange struct {
	// Method and URL identify the request.
	Method string
	URL    string

	// Form is the submitted request body with client_secret and password
	// redacted.
	Form url.Values

	// StatusCode is zero when the round trip itself failed.
	StatusCode int

	// Body is the response payload, truncated to a diagnostic-sized prefix.
	Body string

	// At is when the exchange completed.
	At time.Time
}

// LastExchange returns a snapshot of the most recent token endpoint call,
// or nil if the client has not made one. Later calls do not update a
// previously returned snapshot.
func (c *Client) LastExchange() *Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// ClientCredentials obtains an access token for the client itself, with no
// resource owner involved.
func (c *Client) ClientCredentials(ctx context.Context, scope string) (*oauth.TokenResponse, error) {
	form := c.credentials()
	form.Set("grant_type", oauth.GrantTypeClientCredentials)
	setOptional(form, "scope", scope)
	return c.token(ctx, form)
}

// ResourceOwnerPassword exchanges a resource owner's credentials for tokens.
func (c *Client) ResourceOwnerPassword(ctx context.Context, username, password, scope string) (*oauth.TokenResponse, error) {
	form := c.credentials()
	form.Set("grant_type", oauth.GrantTypePassword)
	form.Set("username", username)
	form.Set("password", password)
	setOptional(form, "scope", scope)
	return c.token(ctx, form)
}

// ExchangeCode redeems an authorization code obtained via AuthCodeURL.
// redirectURI must repeat the value the code was issued against.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth.TokenResponse, error) {
	form := c.credentials()
	form.Set("grant_type", oauth.GrantTypeAuthorizationCode)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	return c.token(ctx, form)
}

// Refresh exchanges a refresh token for a new access token. A non-empty
// scope narrows the grant; it must be a subset of the originally granted
// scope. A rotated refresh token, when the server rotates, arrives in the
// response's RefreshToken field.
func (c *Client) Refresh(ctx context.Context, refreshToken, scope string) (*oauth.TokenResponse, error) {
	form := c.credentials()
	form.Set("grant_type", oauth.GrantTypeRefreshToken)
	form.Set("refresh_token", refreshToken)
	setOptional(form, "scope", scope)
	return c.token(ctx, form)
}

// credentials starts a form carrying the client's identity. The secret
// travels in the body; the server also accepts Basic, but the body carrier
// works for public and confidential clients alike.
func (c *Client) credentials() url.Values {
	form := url.Values{}
	form.Set("client_id", c.ID)
	if c.Secret != "" {
		form.Set("client_secret", c.Secret)
	}
	return form
}

func setOptional(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

// token posts the form and decodes the outcome: a token payload on 200, a
// protocol error otherwise.
func (c *Client) token(ctx context.Context, form url.Values) (*oauth.TokenResponse, error) {
	body, status, err := c.post(ctx, form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeProtocolError(body, status)
	}

	var tok oauth.TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &TransportError{Op: "decode", Err: fmt.Errorf("malformed token response: %w", err)}
	}
	if tok.AccessToken == "" {
		return nil, &TransportError{Op: "decode", Err: fmt.Errorf("token response carries no access_token")}
	}
	return &tok, nil
}

// post sends one form-encoded request to the token endpoint and snapshots
// the exchange for LastExchange. The client always requests the JSON
// rendering. Errors are *TransportError; protocol-level rejections come back
// as a non-200 status for the caller to decode.
func (c *Client) post(ctx context.Context, form url.Values) ([]byte, int, error) {
	ctx, cancel := c.ensureContextTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, &TransportError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		c.record(req, form, 0, nil)
		return nil, 0, &TransportError{Op: "round trip", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.record(req, form, resp.StatusCode, nil)
		return nil, 0, &TransportError{Op: "read response", Err: err}
	}

	c.record(req, form, resp.StatusCode, body)
	return body, resp.StatusCode, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.HTTPClient != nil {
		return c.HTTPClient.Do(req)
	}
	return http.DefaultClient.Do(req)
}

// ensureContextTimeout adds the default deadline when the caller supplied
// none, so a hung endpoint cannot stall the caller indefinitely.
func (c *Client) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

func (c *Client) record(req *http.Request, form url.Values, status int, body []byte) {
	snap := &Exchange{
		Method:     req.Method,
		URL:        req.URL.String(),
		Form:       redactForm(form),
		StatusCode: status,
		Body:       truncateBody(body),
		At:         time.Now(),
	}
	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()
}

func redactForm(form url.Values) url.Values {
	redacted := url.Values{}
	for key, values := range form {
		switch key {
		case "client_secret", "password":
			redacted.Set(key, redactedValue)
		default:
			redacted[key] = append([]string(nil), values...)
		}
	}
	return redacted
}

const maxDiagnosticBody = 2048

func truncateBody(body []byte) string {
	if len(body) > maxDiagnosticBody {
		return string(body[:maxDiagnosticBody]) + "..."
	}
	return string(body)
}

// decodeProtocolError turns a non-200 payload into the protocol error it
// carries. A body that is not a protocol error message is a transport-tier
// failure: some intermediary answered, not the authorization server.
func decodeProtocolError(body []byte, status int) error {
	var er oauth.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		return &TransportError{Op: "decode", Err: fmt.Errorf("non-protocol response with status %d", status)}
	}
	oe := oauth.NewError(er.Error, er.ErrorDescription, status)
	oe.URI = er.ErrorURI
	return oe
}
