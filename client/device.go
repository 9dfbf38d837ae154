package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	oauth "github.com/giantswarm/oauth2-kit"
)

// fallbackPollInterval paces WaitForDeviceToken when the server's device
// authorization response did not state an interval.
const fallbackPollInterval = 5 * time.Second

// slowDownBackoff is added to the polling interval every time the server
// answers slow_down.
const slowDownBackoff = 5 * time.Second

// DeviceAuthorize begins the device flow: it obtains a device_code /
// user_code pair for the requested scope. Show the user code and the
// verification URI to the user, then collect the outcome with
// WaitForDeviceToken (or poll manually with PollDeviceToken).
func (c *Client) DeviceAuthorize(ctx context.Context, scope string) (*oauth.DeviceAuthorizationResponse, error) {
	form := c.credentials()
	form.Set("grant_type", oauth.GrantTypeDeviceCode)
	setOptional(form, "scope", scope)

	body, status, err := c.post(ctx, form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeProtocolError(body, status)
	}

	var auth oauth.DeviceAuthorizationResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, &TransportError{Op: "decode", Err: fmt.Errorf("malformed device authorization response: %w", err)}
	}
	if auth.DeviceCode == "" || auth.UserCode == "" {
		return nil, &TransportError{Op: "decode", Err: fmt.Errorf("device authorization response carries no codes")}
	}
	return &auth, nil
}

// PollDeviceToken asks the token endpoint once whether the user has decided.
// While the decision is outstanding the error is authorization_pending;
// polling faster than the stated interval earns slow_down. Most callers
// want WaitForDeviceToken, which handles both.
func (c *Client) PollDeviceToken(ctx context.Context, deviceCode string) (*oauth.TokenResponse, error) {
	form := c.credentials()
	form.Set("grant_type", oauth.GrantTypeDeviceToken)
	form.Set("device_code", deviceCode)
	return c.token(ctx, form)
}

// WaitForDeviceToken polls the token endpoint until the user approves or
// denies the request, the device code expires, or ctx is done. It waits the
// server-stated interval between polls and backs off further on slow_down.
// Denial, expiry, and other protocol rejections are returned as
// [oauth.Error]; cancellation returns ctx.Err().
func (c *Client) WaitForDeviceToken(ctx context.Context, auth *oauth.DeviceAuthorizationResponse) (*oauth.TokenResponse, error) {
	interval := time.Duration(auth.Interval) * time.Second
	if interval <= 0 {
		interval = fallbackPollInterval
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		tok, err := c.PollDeviceToken(ctx, auth.DeviceCode)
		if err == nil {
			return tok, nil
		}

		var oe *oauth.Error
		if !errors.As(err, &oe) {
			return nil, err
		}
		switch oe.Code {
		case oauth.ErrorCodeAuthorizationPending:
		case oauth.ErrorCodeSlowDown:
			interval += slowDownBackoff
		default:
			return nil, err
		}
		timer.Reset(interval)
	}
}
