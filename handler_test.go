package oauth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-kit/internal/testutil"
	"github.com/giantswarm/oauth2-kit/security"
	"github.com/giantswarm/oauth2-kit/server"
	"github.com/giantswarm/oauth2-kit/storage"
	"github.com/giantswarm/oauth2-kit/storage/memory"
)

const (
	testClientID     = "c1"
	testClientSecret = "s1"
	testRedirectURI  = "https://app.example.com/cb"
	testUsername     = "alice"
	testPassword     = "wonderland"
	testUserID       = "user-alice"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHandler builds a handler over a seeded in-memory store: one
// confidential client allowed the read and write scopes, and one resource
// owner.
func newTestHandler(t *testing.T, storeOpts memory.Options, cfg *Config) (*Handler, *memory.Store) {
	t.Helper()

	storeOpts.Logger = discardLogger()
	store := memory.NewWithOptions(storeOpts)
	t.Cleanup(store.Stop)

	if err := store.CreateClient(&storage.Client{
		ClientID:     testClientID,
		ClientName:   "First Party App",
		RedirectURIs: []string{testRedirectURI},
		Scopes:       []string{"read", "write"},
	}, testClientSecret); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}
	if err := store.CreateUser(testUsername, testPassword, testUserID); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	srv, err := server.New(store, &server.Config{
		VerificationURI: "https://auth.example.com/device",
	}, discardLogger())
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	return NewHandler(srv, cfg, discardLogger()), store
}

func postToken(t *testing.T, h *Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.Do(http.HandlerFunc(h.ServeToken), testutil.FormRequest("/token", form))
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("response %q does not decode: %v", rr.Body.String(), err)
	}
	return m
}

func TestServeToken_ClientCredentials(t *testing.T) {
	h, _ := newTestHandler(t, memory.Options{}, nil)

	rr := postToken(t, h, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"scope":         {"read"},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if got := rr.Header().Get("Pragma"); got != "no-cache" {
		t.Errorf("Pragma = %q, want no-cache", got)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}

	body := decodeJSON(t, rr)
	if body["token_type"] != "Bearer" {
		t.Errorf("token_type = %v, want Bearer", body["token_type"])
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Error("access_token is empty")
	}
	if body["expires_in"] != float64(3600) {
		t.Errorf("expires_in = %v, want 3600", body["expires_in"])
	}
	if body["scope"] != "read" {
		t.Errorf("scope = %v, want read", body["scope"])
	}
	// Client credentials grants have no resource owner and no refresh token.
	if _, ok := body["refresh_token"]; ok {
		t.Error("client_credentials response carries a refresh_token")
	}
}

func TestServeToken_MethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, memory.Options{}, nil)

	rr := testutil.Do(http.HandlerFunc(h.ServeToken), httptest.NewRequest(http.MethodGet, "/token", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestServeToken_BasicAuth(t *testing.T) {
	t.Run("valid credentials", func(t *testing.T) {
		h, _ := newTestHandler(t, memory.Options{}, nil)

		req := testutil.FormRequest("/token", url.Values{"grant_type": {"client_credentials"}})
		req.Header.Set("Authorization", basicAuth(testClientID, testClientSecret))

		rr := testutil.Do(http.HandlerFunc(h.ServeToken), req)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("wrong secret gets 401 with basic challenge", func(t *testing.T) {
		h, _ := newTestHandler(t, memory.Options{}, nil)

		req := testutil.FormRequest("/token", url.Values{"grant_type": {"client_credentials"}})
		req.Header.Set("Authorization", basicAuth(testClientID, "wrong"))

		rr := testutil.Do(http.HandlerFunc(h.ServeToken), req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rr.Code)
		}
		challenge := rr.Header().Get("WWW-Authenticate")
		if !strings.HasPrefix(challenge, "Basic realm=") {
			t.Errorf("WWW-Authenticate = %q, want a Basic challenge", challenge)
		}
		if body := decodeJSON(t, rr); body["error"] != "invalid_client" {
			t.Errorf("error = %v, want invalid_client", body["error"])
		}
	})

	t.Run("wrong secret in body stays 400", func(t *testing.T) {
		h, _ := newTestHandler(t, memory.Options{}, nil)

		rr := postToken(t, h, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {testClientID},
			"client_secret": {"wrong"},
		})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		if got := rr.Header().Get("WWW-Authenticate"); got != "" {
			t.Errorf("WWW-Authenticate = %q, want none for body credentials", got)
		}
		if body := decodeJSON(t, rr); body["error"] != "invalid_client" {
			t.Errorf("error = %v, want invalid_client", body["error"])
		}
	})
}

func TestServeToken_RequestErrors(t *testing.T) {
	h, _ := newTestHandler(t, memory.Options{}, nil)

	tests := []struct {
		name      string
		form      url.Values
		wantError string
	}{
		{
			name:      "missing grant_type",
			form:      url.Values{"client_id": {testClientID}, "client_secret": {testClientSecret}},
			wantError: "invalid_request",
		},
		{
			name: "unsupported grant_type",
			form: url.Values{
				"grant_type":    {"saml2_bearer"},
				"client_id":     {testClientID},
				"client_secret": {testClientSecret},
			},
			wantError: "unsupported_grant_type",
		},
		{
			name: "unknown format",
			form: url.Values{
				"grant_type":    {"client_credentials"},
				"client_id":     {testClientID},
				"client_secret": {testClientSecret},
				"format":        {"yaml"},
			},
			wantError: "invalid_request",
		},
		{
			name: "scope outside client allowlist",
			form: url.Values{
				"grant_type":    {"client_credentials"},
				"client_id":     {testClientID},
				"client_secret": {testClientSecret},
				"scope":         {"admin"},
			},
			wantError: "invalid_scope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postToken(t, h, tt.form)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
			}
			if body := decodeJSON(t, rr); body["error"] != tt.wantError {
				t.Errorf("error = %v, want %s", body["error"], tt.wantError)
			}
		})
	}
}

func TestServeToken_CredentialCarrierConflict(t *testing.T) {
	h, _ := newTestHandler(t, memory.Options{}, nil)

	req := testutil.FormRequest("/token", url.Values{
		"grant_type": {"client_credentials"},
		"client_id":  {testClientID},
	})
	req.Header.Set("Authorization", basicAuth(testClientID, testClientSecret))

	rr := testutil.Do(http.HandlerFunc(h.ServeToken), req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "invalid_request" {
		t.Errorf("error = %v, want invalid_request", body["error"])
	}
}

func TestServeToken_GrantTypeNotAllowed(t *testing.T) {
	h, store := newTestHandler(t, memory.Options{}, nil)

	if err := store.CreateClient(&storage.Client{
		ClientID:   "backend-only",
		GrantTypes: []string{"password"},
	}, "s2"); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}

	rr := postToken(t, h, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"backend-only"},
		"client_secret": {"s2"},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "unauthorized_client" {
		t.Errorf("error = %v, want unauthorized_client", body["error"])
	}
}

func TestServeToken_Password(t *testing.T) {
	h, _ := newTestHandler(t, memory.Options{}, nil)

	rr := postToken(t, h, url.Values{
		"grant_type":    {"password"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"username":      {testUsername},
		"password":      {testPassword},
		"scope":         {"read write"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	body := decodeJSON(t, rr)
	if body["refresh_token"] == "" || body["refresh_token"] == nil {
		t.Error("password grant response carries no refresh_token")
	}
	if body["scope"] != "read write" {
		t.Errorf("scope = %v, want read write", body["scope"])
	}
}

func TestServeToken_Password_BadUserCredentials(t *testing.T) {
	h, _ := newTestHandler(t, memory.Options{}, nil)

	rr := postToken(t, h, url.Values{
		"grant_type":    {"password"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"username":      {testUsername},
		"password":      {"not-the-password"},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "invalid_grant" {
		t.Errorf("error = %v, want invalid_grant", body["error"])
	}
}

func TestServeToken_AuthorizationCode(t *testing.T) {
	h, store := newTestHandler(t, memory.Options{}, nil)
	ctx := context.Background()

	info, err := store.CreateOrUpdateAuthInfo(ctx, testClientID, testUserID, "read", testRedirectURI)
	if err != nil {
		t.Fatalf("CreateOrUpdateAuthInfo() error = %v", err)
	}

	exchange := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"code":          {info.Code},
		"redirect_uri":  {testRedirectURI},
	}

	rr := postToken(t, h, exchange)
	if rr.Code != http.StatusOK {
		t.Fatalf("first exchange status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if body["access_token"] == nil || body["refresh_token"] == nil {
		t.Errorf("exchange response missing tokens: %v", body)
	}
	if body["scope"] != "read" {
		t.Errorf("scope = %v, want read", body["scope"])
	}

	// A code is consumable exactly once; the replay must fail.
	rr = postToken(t, h, exchange)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("replay status = %d, want 400", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "invalid_grant" {
		t.Errorf("replay error = %v, want invalid_grant", body["error"])
	}
}

func TestServeToken_AuthorizationCode_Mismatches(t *testing.T) {
	h, store := newTestHandler(t, memory.Options{}, nil)
	ctx := context.Background()

	if err := store.CreateClient(&storage.Client{ClientID: "c2"}, "s2"); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}

	tests := []struct {
		name string
		form func(code string) url.Values
	}{
		{
			name: "wrong redirect_uri",
			form: func(code string) url.Values {
				return url.Values{
					"grant_type":    {"authorization_code"},
					"client_id":     {testClientID},
					"client_secret": {testClientSecret},
					"code":          {code},
					"redirect_uri":  {"https://evil.example.com/cb"},
				}
			},
		},
		{
			name: "code issued to another client",
			form: func(code string) url.Values {
				return url.Values{
					"grant_type":    {"authorization_code"},
					"client_id":     {"c2"},
					"client_secret": {"s2"},
					"code":          {code},
					"redirect_uri":  {testRedirectURI},
				}
			},
		},
		{
			name: "unknown code",
			form: func(string) url.Values {
				return url.Values{
					"grant_type":    {"authorization_code"},
					"client_id":     {testClientID},
					"client_secret": {testClientSecret},
					"code":          {"no-such-code"},
					"redirect_uri":  {testRedirectURI},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := store.CreateOrUpdateAuthInfo(ctx, testClientID, testUserID, "read", testRedirectURI)
			if err != nil {
				t.Fatalf("CreateOrUpdateAuthInfo() error = %v", err)
			}

			rr := postToken(t, h, tt.form(info.Code))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			if body := decodeJSON(t, rr); body["error"] != "invalid_grant" {
				t.Errorf("error = %v, want invalid_grant", body["error"])
			}
		})
	}
}

// refreshTokenFor runs a password grant and returns the issued refresh token.
func refreshTokenFor(t *testing.T, h *Handler, scope string) string {
	t.Helper()

	rr := postToken(t, h, url.Values{
		"grant_type":    {"password"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"username":      {testUsername},
		"password":      {testPassword},
		"scope":         {scope},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("password grant status = %d, body = %s", rr.Code, rr.Body.String())
	}
	refresh, _ := decodeJSON(t, rr)["refresh_token"].(string)
	if refresh == "" {
		t.Fatal("password grant issued no refresh token")
	}
	return refresh
}

func TestServeToken_Refresh(t *testing.T) {
	t.Run("narrowed scope", func(t *testing.T) {
		h, _ := newTestHandler(t, memory.Options{}, nil)
		refresh := refreshTokenFor(t, h, "read write")

		rr := postToken(t, h, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {testClientID},
			"client_secret": {testClientSecret},
			"refresh_token": {refresh},
			"scope":         {"read"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if body["scope"] != "read" {
			t.Errorf("scope = %v, want read", body["scope"])
		}
		// The store does not rotate by default, so no refresh token is echoed.
		if _, ok := body["refresh_token"]; ok {
			t.Errorf("unrotated refresh exchange echoed a refresh_token: %v", body)
		}
	})

	t.Run("scope escalation is rejected", func(t *testing.T) {
		h, _ := newTestHandler(t, memory.Options{}, nil)
		refresh := refreshTokenFor(t, h, "read")

		rr := postToken(t, h, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {testClientID},
			"client_secret": {testClientSecret},
			"refresh_token": {refresh},
			"scope":         {"write"},
		})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		if body := decodeJSON(t, rr); body["error"] != "invalid_scope" {
			t.Errorf("error = %v, want invalid_scope", body["error"])
		}
	})

	t.Run("rotation surfaces the new refresh token", func(t *testing.T) {
		h, _ := newTestHandler(t, memory.Options{RotateRefreshTokens: true}, nil)
		refresh := refreshTokenFor(t, h, "read")

		rr := postToken(t, h, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {testClientID},
			"client_secret": {testClientSecret},
			"refresh_token": {refresh},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}
		rotated, _ := decodeJSON(t, rr)["refresh_token"].(string)
		if rotated == "" {
			t.Fatal("rotating store returned no refresh_token")
		}
		if rotated == refresh {
			t.Error("refresh_token was not rotated")
		}

		// The presented token is dead after rotation.
		rr = postToken(t, h, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {testClientID},
			"client_secret": {testClientSecret},
			"refresh_token": {refresh},
		})
		if body := decodeJSON(t, rr); body["error"] != "invalid_grant" {
			t.Errorf("stale refresh error = %v, want invalid_grant", body["error"])
		}
	})

	t.Run("unknown refresh token", func(t *testing.T) {
		h, _ := newTestHandler(t, memory.Options{}, nil)

		rr := postToken(t, h, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {testClientID},
			"client_secret": {testClientSecret},
			"refresh_token": {"no-such-token"},
		})
		if body := decodeJSON(t, rr); body["error"] != "invalid_grant" {
			t.Errorf("error = %v, want invalid_grant", body["error"])
		}
	})
}

func TestServeToken_FormatSelection(t *testing.T) {
	t.Run("xml by request parameter", func(t *testing.T) {
		h, _ := newTestHandler(t, memory.Options{}, nil)

		rr := postToken(t, h, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {testClientID},
			"client_secret": {testClientSecret},
			"format":        {"xml"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}
		if got := rr.Header().Get("Content-Type"); got != "application/xml" {
			t.Errorf("Content-Type = %q, want application/xml", got)
		}
		fields, err := UnmarshalResponse(FormatXML, rr.Body.Bytes())
		if err != nil {
			t.Fatalf("UnmarshalResponse() error = %v", err)
		}
		if fields["token_type"] != "Bearer" || fields["access_token"] == "" {
			t.Errorf("decoded fields = %v", fields)
		}
	})

	t.Run("endpoint default applies without a parameter", func(t *testing.T) {
		h, _ := newTestHandler(t, memory.Options{}, &Config{DefaultFormat: FormatFormURLEncoded})

		rr := postToken(t, h, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {testClientID},
			"client_secret": {testClientSecret},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}
		if got := rr.Header().Get("Content-Type"); got != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q, want form encoding", got)
		}
		fields, err := UnmarshalResponse(FormatFormURLEncoded, rr.Body.Bytes())
		if err != nil {
			t.Fatalf("UnmarshalResponse() error = %v", err)
		}
		if fields["expires_in"] != "3600" {
			t.Errorf("expires_in = %q, want 3600", fields["expires_in"])
		}
	})

	t.Run("errors render in the selected format", func(t *testing.T) {
		h, _ := newTestHandler(t, memory.Options{}, nil)

		rr := postToken(t, h, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {testClientID},
			"client_secret": {"wrong"},
			"format":        {"xml"},
		})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		fields, err := UnmarshalResponse(FormatXML, rr.Body.Bytes())
		if err != nil {
			t.Fatalf("UnmarshalResponse() error = %v", err)
		}
		if fields["error"] != "invalid_client" {
			t.Errorf("error = %q, want invalid_client", fields["error"])
		}
	})
}

func TestServeToken_DeviceGrant(t *testing.T) {
	h, store := newTestHandler(t, memory.Options{}, nil)
	ctx := context.Background()

	// Phase one: the device obtains its code pair.
	rr := postToken(t, h, url.Values{
		"grant_type":    {"device_code"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"scope":         {"read"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("device_code status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	deviceCode, _ := body["device_code"].(string)
	userCode, _ := body["user_code"].(string)
	if deviceCode == "" || userCode == "" {
		t.Fatalf("device authorization response incomplete: %v", body)
	}
	if body["verification_uri"] != "https://auth.example.com/device" {
		t.Errorf("verification_uri = %v", body["verification_uri"])
	}
	if body["interval"] != float64(5) {
		t.Errorf("interval = %v, want 5", body["interval"])
	}

	poll := url.Values{
		"grant_type":    {"device_token"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"device_code":   {deviceCode},
	}

	// Pending before the user decides.
	rr = postToken(t, h, poll)
	if body := decodeJSON(t, rr); body["error"] != "authorization_pending" {
		t.Fatalf("first poll error = %v, want authorization_pending", body["error"])
	}

	// A second poll inside the interval window is paced.
	rr = postToken(t, h, poll)
	if body := decodeJSON(t, rr); body["error"] != "slow_down" {
		t.Fatalf("hasty poll error = %v, want slow_down", body["error"])
	}

	if err := store.ApproveDeviceAuthorization(ctx, userCode, testUserID); err != nil {
		t.Fatalf("ApproveDeviceAuthorization() error = %v", err)
	}

	// A well-paced poll after approval redeems the code. The engine clock is
	// advanced past the interval instead of sleeping through it.
	resp, err := h.server.Exchange(ctx, &server.TokenRequest{
		GrantType:    "device_token",
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		DeviceCode:   deviceCode,
		Now:          time.Now().Add(10 * time.Second),
	})
	if err != nil {
		t.Fatalf("approved poll error = %v", err)
	}
	token, ok := resp.(*server.TokenResponse)
	if !ok {
		t.Fatalf("approved poll response = %T, want *server.TokenResponse", resp)
	}
	if token.AccessToken == "" || token.Scope != "read" {
		t.Errorf("token response = %+v", token)
	}

	// The device code redeems at most once.
	_, err = h.server.Exchange(ctx, &server.TokenRequest{
		GrantType:    "device_token",
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		DeviceCode:   deviceCode,
		Now:          time.Now().Add(20 * time.Second),
	})
	if oerr := AsError(err); oerr.Code != ErrorCodeInvalidGrant {
		t.Errorf("replayed device code error = %v, want invalid_grant", err)
	}
}

func TestServeToken_DeviceDenied(t *testing.T) {
	h, store := newTestHandler(t, memory.Options{}, nil)
	ctx := context.Background()

	rec, err := store.CreateDeviceAuthorization(ctx, testClientID, "read")
	if err != nil {
		t.Fatalf("CreateDeviceAuthorization() error = %v", err)
	}
	if err := store.DenyDeviceAuthorization(ctx, rec.UserCode); err != nil {
		t.Fatalf("DenyDeviceAuthorization() error = %v", err)
	}

	rr := postToken(t, h, url.Values{
		"grant_type":    {"device_token"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"device_code":   {rec.DeviceCode},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "access_denied" {
		t.Errorf("error = %v, want access_denied", body["error"])
	}
}

func TestServeToken_RateLimit(t *testing.T) {
	h, _ := newTestHandler(t, memory.Options{}, nil)
	h.RateLimiter = security.NewRateLimiter(1, 1, discardLogger())
	t.Cleanup(h.RateLimiter.Stop)

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}

	if rr := postToken(t, h, form); rr.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rr.Code)
	}
	rr := postToken(t, h, form)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
}

func TestNormalizeUserCode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"wdjb-mjht", "WDJBMJHT"},
		{"WDJB MJHT", "WDJBMJHT"},
		{"  wdjb mjht  ", "WDJBMJHT"},
		{"WDJBMJHT", "WDJBMJHT"},
	}
	for _, tt := range tests {
		if got := normalizeUserCode(tt.input); got != tt.want {
			t.Errorf("normalizeUserCode(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
