package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-kit/storage"
)

// baseTime is the single clock sample used across these tests. The engine
// never consults the wall clock once req.Now is set, so every timing case is
// expressed as an offset from here.
var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var errFakeBackend = errors.New("backend down")

// fakeStore is a deterministic in-test Data Handler: predictable IDs, a
// fixed clock, and a switch to force any one operation to fail.
type fakeStore struct {
	mu sync.Mutex

	clients map[string]*storage.Client
	secrets map[string]string
	userID  string
	grants  map[string]*storage.AuthInfo
	tokens  map[string]*storage.AccessToken

	rotate   bool
	tokenTTL int64
	seq      int

	// failOp forces the named operation to return a raw (non-sentinel)
	// error, standing in for a broken backend.
	failOp string
}

func newFakeStore() *fakeStore {
	f := &fakeStore{
		clients:  make(map[string]*storage.Client),
		secrets:  make(map[string]string),
		grants:   make(map[string]*storage.AuthInfo),
		tokens:   make(map[string]*storage.AccessToken),
		userID:   "user-alice",
		tokenTTL: 3600,
	}
	f.addClient(&storage.Client{
		ClientID:     "c1",
		ClientName:   "Test App",
		RedirectURIs: []string{"https://app.example.com/cb"},
		Scopes:       []string{"read", "write"},
	}, "s1")
	return f
}

func (f *fakeStore) addClient(c *storage.Client, secret string) {
	f.clients[c.ClientID] = c
	f.secrets[c.ClientID] = secret
}

// addGrant injects a grant directly, the way a consent decision would have
// created one.
func (f *fakeStore) addGrant(info *storage.AuthInfo) {
	f.grants[info.ID] = info
}

func (f *fakeStore) check(op string) error {
	if f.failOp == op {
		return errFakeBackend
	}
	return nil
}

func (f *fakeStore) ValidateClient(_ context.Context, clientID, clientSecret, _ string) (*storage.Client, error) {
	if err := f.check("validate_client"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if f.secrets[clientID] != clientSecret {
		return nil, storage.ErrDenied
	}
	dup := *c
	return &dup, nil
}

func (f *fakeStore) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	if err := f.check("get_client"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	dup := *c
	return &dup, nil
}

func (f *fakeStore) ValidateScope(_ context.Context, clientID, scope string) error {
	if err := f.check("validate_scope"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[clientID]
	if !ok || !c.AllowsScope(scope) {
		return storage.ErrDenied
	}
	return nil
}

func (f *fakeStore) ValidateRedirectURI(_ context.Context, clientID, redirectURI string) error {
	if err := f.check("validate_redirect_uri"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[clientID]
	if !ok || !c.AllowsRedirectURI(redirectURI) {
		return storage.ErrDenied
	}
	return nil
}

func (f *fakeStore) AuthenticateUser(_ context.Context, username, password string) (string, error) {
	if err := f.check("authenticate_user"); err != nil {
		return "", err
	}
	if username != "alice" || password != "wonderland" {
		return "", storage.ErrDenied
	}
	return f.userID, nil
}

func (f *fakeStore) CreateOrUpdateAuthInfo(_ context.Context, clientID, userID, scope, redirectURI string) (*storage.AuthInfo, error) {
	if err := f.check("create_or_update_auth_info"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, g := range f.grants {
		if g.ClientID == clientID && g.UserID == userID {
			f.seq++
			g.Code = fmt.Sprintf("code-%d", f.seq)
			g.Scope = scope
			g.RedirectURI = redirectURI
			g.Used = false
			g.ExpiresAt = baseTime.Add(10 * time.Minute)
			dup := *g
			return &dup, nil
		}
	}

	f.seq++
	g := &storage.AuthInfo{
		ID:           fmt.Sprintf("grant-%d", f.seq),
		ClientID:     clientID,
		UserID:       userID,
		Scope:        scope,
		RedirectURI:  redirectURI,
		Code:         fmt.Sprintf("code-%d", f.seq),
		RefreshToken: fmt.Sprintf("refresh-%d", f.seq),
		CreatedAt:    baseTime,
		ExpiresAt:    baseTime.Add(10 * time.Minute),
	}
	f.grants[g.ID] = g
	dup := *g
	return &dup, nil
}

func (f *fakeStore) GetAuthInfoByID(_ context.Context, id string) (*storage.AuthInfo, error) {
	if err := f.check("get_auth_info_by_id"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	dup := *g
	return &dup, nil
}

func (f *fakeStore) GetAuthInfoByCode(_ context.Context, code string) (*storage.AuthInfo, error) {
	if err := f.check("get_auth_info_by_code"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.Code == code {
			dup := *g
			return &dup, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetAuthInfoByRefreshToken(_ context.Context, refreshToken string) (*storage.AuthInfo, error) {
	if err := f.check("get_auth_info_by_refresh_token"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.RefreshToken == refreshToken {
			dup := *g
			return &dup, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) MarkAuthInfoUsed(_ context.Context, id string) error {
	if err := f.check("mark_auth_info_used"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[id]
	if !ok {
		return storage.ErrNotFound
	}
	if g.Used {
		return storage.ErrGrantUsed
	}
	g.Used = true
	return nil
}

func (f *fakeStore) CreateOrUpdateAccessToken(_ context.Context, authInfo *storage.AuthInfo) (*storage.AccessToken, error) {
	if err := f.check("create_or_update_access_token"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[authInfo.ID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	f.seq++
	tok := &storage.AccessToken{
		Token:     fmt.Sprintf("token-%d", f.seq),
		AuthID:    g.ID,
		IssuedAt:  baseTime,
		ExpiresIn: f.tokenTTL,
	}
	f.tokens[tok.Token] = tok

	if f.rotate && g.RefreshToken != "" {
		g.RefreshToken = fmt.Sprintf("refresh-%d", f.seq)
	}
	authInfo.RefreshToken = g.RefreshToken

	dup := *tok
	return &dup, nil
}

func (f *fakeStore) GetAccessToken(_ context.Context, token string) (*storage.AccessToken, error) {
	if err := f.check("get_access_token"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	dup := *tok
	return &dup, nil
}

// fakeDeviceStore adds the optional device capability.
type fakeDeviceStore struct {
	*fakeStore
	devices map[string]*storage.DeviceAuthorization
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{
		fakeStore: newFakeStore(),
		devices:   make(map[string]*storage.DeviceAuthorization),
	}
}

func (f *fakeDeviceStore) CreateDeviceAuthorization(_ context.Context, clientID, scope string) (*storage.DeviceAuthorization, error) {
	if err := f.check("create_device_authorization"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	rec := &storage.DeviceAuthorization{
		DeviceCode: fmt.Sprintf("device-%d", f.seq),
		UserCode:   fmt.Sprintf("WDJBMJH%d", f.seq),
		ClientID:   clientID,
		Scope:      scope,
		Status:     storage.DeviceStatusPending,
		Interval:   5,
		CreatedAt:  baseTime,
		ExpiresAt:  baseTime.Add(30 * time.Minute),
	}
	f.devices[rec.DeviceCode] = rec
	dup := *rec
	return &dup, nil
}

func (f *fakeDeviceStore) GetDeviceAuthorizationByUserCode(_ context.Context, userCode string) (*storage.DeviceAuthorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.devices {
		if rec.UserCode == userCode {
			dup := *rec
			return &dup, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeDeviceStore) ApproveDeviceAuthorization(_ context.Context, userCode, userID string) error {
	return f.decide(userCode, storage.DeviceStatusApproved, userID)
}

func (f *fakeDeviceStore) DenyDeviceAuthorization(_ context.Context, userCode string) error {
	return f.decide(userCode, storage.DeviceStatusDenied, "")
}

func (f *fakeDeviceStore) decide(userCode, status, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.devices {
		if rec.UserCode == userCode {
			rec.Status = status
			rec.UserID = userID
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeDeviceStore) TouchDevicePoll(_ context.Context, deviceCode string, now time.Time) (*storage.DeviceAuthorization, error) {
	if err := f.check("touch_device_poll"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.devices[deviceCode]
	if !ok {
		return nil, storage.ErrNotFound
	}
	prior := *rec
	rec.LastPolledAt = now
	return &prior, nil
}

func (f *fakeDeviceStore) ConsumeDeviceAuthorization(_ context.Context, deviceCode string) (*storage.DeviceAuthorization, error) {
	if err := f.check("consume_device_authorization"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.devices[deviceCode]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(f.devices, deviceCode)
	dup := *rec
	return &dup, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, handler storage.DataHandler) *Server {
	t.Helper()
	srv, err := New(handler, &Config{VerificationURI: "https://auth.example.com/device"}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

// wantProtocolError asserts err is a protocol error with the given code.
func wantProtocolError(t *testing.T, err error, code string) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("want %s, got success", code)
	}
	var oe *Error
	if !errors.As(err, &oe) {
		t.Fatalf("error %v is not a protocol error", err)
	}
	if oe.Code != code {
		t.Fatalf("error code = %q (%s), want %q", oe.Code, oe.Description, code)
	}
	return oe
}

func TestNew(t *testing.T) {
	t.Run("nil handler", func(t *testing.T) {
		if _, err := New(nil, nil, testLogger()); err == nil {
			t.Error("New(nil) succeeded")
		}
	})

	t.Run("negative grace period", func(t *testing.T) {
		_, err := New(newFakeStore(), &Config{ClockSkewGracePeriod: -1}, testLogger())
		if err == nil {
			t.Error("negative grace period accepted")
		}
	})

	t.Run("relative verification URI", func(t *testing.T) {
		_, err := New(newFakeStore(), &Config{VerificationURI: "/device"}, testLogger())
		if err == nil {
			t.Error("relative verification URI accepted")
		}
	})

	t.Run("device grants follow the capability", func(t *testing.T) {
		plain := newTestServer(t, newFakeStore())
		want := []string{"authorization_code", "client_credentials", "password", "refresh_token"}
		if got := plain.GrantTypes(); !equalStrings(got, want) {
			t.Errorf("GrantTypes() = %v, want %v", got, want)
		}

		device := newTestServer(t, newFakeDeviceStore())
		want = []string{"authorization_code", "client_credentials", "device_code", "device_token", "password", "refresh_token"}
		if got := device.GrantTypes(); !equalStrings(got, want) {
			t.Errorf("GrantTypes() = %v, want %v", got, want)
		}
	})
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type staticFlow struct {
	grantType string
	resp      Response
}

func (f *staticFlow) GrantType() string { return f.grantType }
func (f *staticFlow) Exchange(context.Context, *TokenRequest) (Response, error) {
	return f.resp, nil
}

func TestRegisterFlow(t *testing.T) {
	srv := newTestServer(t, newFakeStore())

	if err := srv.RegisterFlow(nil); err == nil {
		t.Error("nil flow accepted")
	}
	if err := srv.RegisterFlow(&staticFlow{}); err == nil {
		t.Error("flow with empty grant type accepted")
	}

	want := &TokenResponse{TokenType: TokenTypeBearer, AccessToken: "custom"}
	if err := srv.RegisterFlow(&staticFlow{grantType: "urn:example:jwt-bearer", resp: want}); err != nil {
		t.Fatalf("RegisterFlow() error = %v", err)
	}

	resp, err := srv.Exchange(context.Background(), &TokenRequest{
		GrantType: "urn:example:jwt-bearer",
		Now:       baseTime,
	})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if resp != want {
		t.Errorf("Exchange() routed to the wrong flow: %+v", resp)
	}
}

// TestExchange_GuardOrder pins the evaluation order: request shape, then
// client authentication, then grant-type authorization, then scope, then the
// grant material itself. Each case fails several guards at once and must
// surface the earliest one.
func TestExchange_GuardOrder(t *testing.T) {
	store := newFakeStore()
	store.addClient(&storage.Client{
		ClientID:   "password-only",
		GrantTypes: []string{"password"},
		Scopes:     []string{"read"},
	}, "s2")
	srv := newTestServer(t, store)

	tests := []struct {
		name string
		req  *TokenRequest
		want string
	}{
		{
			name: "missing grant_type outranks bad credentials",
			req:  &TokenRequest{ClientID: "c1", ClientSecret: "wrong"},
			want: ErrorCodeInvalidRequest,
		},
		{
			name: "unknown grant_type outranks bad credentials",
			req:  &TokenRequest{GrantType: "saml2", ClientID: "c1", ClientSecret: "wrong"},
			want: ErrorCodeUnsupportedGrantType,
		},
		{
			name: "missing client_id",
			req:  &TokenRequest{GrantType: GrantTypeClientCredentials},
			want: ErrorCodeInvalidClient,
		},
		{
			name: "unknown client is indistinguishable from a bad secret",
			req:  &TokenRequest{GrantType: GrantTypeClientCredentials, ClientID: "ghost", ClientSecret: "s"},
			want: ErrorCodeInvalidClient,
		},
		{
			name: "bad secret outranks disallowed grant type",
			req:  &TokenRequest{GrantType: GrantTypeClientCredentials, ClientID: "password-only", ClientSecret: "wrong"},
			want: ErrorCodeInvalidClient,
		},
		{
			name: "disallowed grant type outranks bad scope",
			req: &TokenRequest{
				GrantType:    GrantTypeClientCredentials,
				ClientID:     "password-only",
				ClientSecret: "s2",
				Scope:        "admin",
			},
			want: ErrorCodeUnauthorizedClient,
		},
		{
			name: "bad scope outranks bad user credentials",
			req: &TokenRequest{
				GrantType:    GrantTypePassword,
				ClientID:     "c1",
				ClientSecret: "s1",
				Scope:        "admin",
				Username:     "alice",
				Password:     "not-the-password",
			},
			want: ErrorCodeInvalidScope,
		},
		{
			name: "bad user credentials surface last",
			req: &TokenRequest{
				GrantType:    GrantTypePassword,
				ClientID:     "c1",
				ClientSecret: "s1",
				Scope:        "read",
				Username:     "alice",
				Password:     "not-the-password",
			},
			want: ErrorCodeInvalidGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Now = baseTime
			_, err := srv.Exchange(context.Background(), tt.req)
			wantProtocolError(t, err, tt.want)
		})
	}
}

func TestExchange_ClientCredentials(t *testing.T) {
	srv := newTestServer(t, newFakeStore())

	resp, err := srv.Exchange(context.Background(), &TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     "c1",
		ClientSecret: "s1",
		Scope:        "read",
		Now:          baseTime,
	})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	token, ok := resp.(*TokenResponse)
	if !ok {
		t.Fatalf("response = %T, want *TokenResponse", resp)
	}
	if token.TokenType != TokenTypeBearer {
		t.Errorf("TokenType = %q, want Bearer", token.TokenType)
	}
	if token.AccessToken == "" {
		t.Error("AccessToken is empty")
	}
	if token.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", token.ExpiresIn)
	}
	if token.Scope != "read" {
		t.Errorf("Scope = %q, want read", token.Scope)
	}
	if token.RefreshToken != "" {
		t.Errorf("client credentials response carries refresh token %q", token.RefreshToken)
	}
}

func TestExchange_Password(t *testing.T) {
	srv := newTestServer(t, newFakeStore())

	t.Run("missing credentials", func(t *testing.T) {
		_, err := srv.Exchange(context.Background(), &TokenRequest{
			GrantType:    GrantTypePassword,
			ClientID:     "c1",
			ClientSecret: "s1",
			Username:     "alice",
			Now:          baseTime,
		})
		wantProtocolError(t, err, ErrorCodeInvalidRequest)
	})

	t.Run("success carries a refresh token", func(t *testing.T) {
		resp, err := srv.Exchange(context.Background(), &TokenRequest{
			GrantType:    GrantTypePassword,
			ClientID:     "c1",
			ClientSecret: "s1",
			Username:     "alice",
			Password:     "wonderland",
			Scope:        "read write",
			Now:          baseTime,
		})
		if err != nil {
			t.Fatalf("Exchange() error = %v", err)
		}
		token := resp.(*TokenResponse)
		if token.RefreshToken == "" {
			t.Error("password grant issued no refresh token")
		}
		if token.Scope != "read write" {
			t.Errorf("Scope = %q, want read write", token.Scope)
		}
	})
}

func codeExchange(code, redirectURI string) *TokenRequest {
	return &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s1",
		Code:         code,
		RedirectURI:  redirectURI,
		Now:          baseTime,
	}
}

func TestExchange_AuthorizationCode(t *testing.T) {
	seedGrant := func(store *fakeStore) *storage.AuthInfo {
		g := &storage.AuthInfo{
			ID:           "grant-seed",
			ClientID:     "c1",
			UserID:       "user-alice",
			Scope:        "read",
			RedirectURI:  "https://app.example.com/cb",
			Code:         "code-seed",
			RefreshToken: "refresh-seed",
			CreatedAt:    baseTime.Add(-time.Minute),
			ExpiresAt:    baseTime.Add(9 * time.Minute),
		}
		store.addGrant(g)
		return g
	}

	t.Run("exchange and replay", func(t *testing.T) {
		store := newFakeStore()
		seedGrant(store)
		srv := newTestServer(t, store)

		resp, err := srv.Exchange(context.Background(), codeExchange("code-seed", "https://app.example.com/cb"))
		if err != nil {
			t.Fatalf("first exchange error = %v", err)
		}
		token := resp.(*TokenResponse)
		if token.AccessToken == "" || token.RefreshToken != "refresh-seed" {
			t.Errorf("token response = %+v", token)
		}

		_, err = srv.Exchange(context.Background(), codeExchange("code-seed", "https://app.example.com/cb"))
		oe := wantProtocolError(t, err, ErrorCodeInvalidGrant)
		if !strings.Contains(oe.Description, "already used") {
			t.Errorf("replay description = %q", oe.Description)
		}
	})

	t.Run("parameter shape", func(t *testing.T) {
		srv := newTestServer(t, newFakeStore())

		_, err := srv.Exchange(context.Background(), codeExchange("", "https://app.example.com/cb"))
		wantProtocolError(t, err, ErrorCodeInvalidRequest)

		_, err = srv.Exchange(context.Background(), codeExchange("code-seed", ""))
		wantProtocolError(t, err, ErrorCodeInvalidRequest)
	})

	t.Run("unknown code", func(t *testing.T) {
		srv := newTestServer(t, newFakeStore())
		_, err := srv.Exchange(context.Background(), codeExchange("no-such-code", "https://app.example.com/cb"))
		wantProtocolError(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("code issued to another client", func(t *testing.T) {
		store := newFakeStore()
		g := seedGrant(store)
		g.ClientID = "someone-else"
		srv := newTestServer(t, store)

		_, err := srv.Exchange(context.Background(), codeExchange("code-seed", "https://app.example.com/cb"))
		wantProtocolError(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("expired code", func(t *testing.T) {
		store := newFakeStore()
		g := seedGrant(store)
		g.ExpiresAt = baseTime.Add(-time.Second)
		srv := newTestServer(t, store)

		_, err := srv.Exchange(context.Background(), codeExchange("code-seed", "https://app.example.com/cb"))
		wantProtocolError(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("redirect mismatch", func(t *testing.T) {
		store := newFakeStore()
		seedGrant(store)
		srv := newTestServer(t, store)

		_, err := srv.Exchange(context.Background(), codeExchange("code-seed", "https://evil.example.com/cb"))
		wantProtocolError(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("grant without redirect binding skips the check", func(t *testing.T) {
		store := newFakeStore()
		g := seedGrant(store)
		g.RedirectURI = ""
		srv := newTestServer(t, store)

		if _, err := srv.Exchange(context.Background(), codeExchange("code-seed", "https://anywhere.example.com")); err != nil {
			t.Errorf("Exchange() error = %v", err)
		}
	})
}

func TestExchange_RefreshRotation(t *testing.T) {
	t.Run("rotating store surfaces the new token", func(t *testing.T) {
		store := newFakeStore()
		store.rotate = true
		store.addGrant(&storage.AuthInfo{
			ID:           "grant-seed",
			ClientID:     "c1",
			UserID:       "user-alice",
			Scope:        "read",
			RefreshToken: "refresh-seed",
		})
		srv := newTestServer(t, store)

		resp, err := srv.Exchange(context.Background(), &TokenRequest{
			GrantType:    GrantTypeRefreshToken,
			ClientID:     "c1",
			ClientSecret: "s1",
			RefreshToken: "refresh-seed",
			Now:          baseTime,
		})
		if err != nil {
			t.Fatalf("Exchange() error = %v", err)
		}
		token := resp.(*TokenResponse)
		if token.RefreshToken == "" || token.RefreshToken == "refresh-seed" {
			t.Errorf("RefreshToken = %q, want a rotated value", token.RefreshToken)
		}
	})

	t.Run("non-rotating store stays silent", func(t *testing.T) {
		store := newFakeStore()
		store.addGrant(&storage.AuthInfo{
			ID:           "grant-seed",
			ClientID:     "c1",
			UserID:       "user-alice",
			Scope:        "read",
			RefreshToken: "refresh-seed",
		})
		srv := newTestServer(t, store)

		resp, err := srv.Exchange(context.Background(), &TokenRequest{
			GrantType:    GrantTypeRefreshToken,
			ClientID:     "c1",
			ClientSecret: "s1",
			RefreshToken: "refresh-seed",
			Now:          baseTime,
		})
		if err != nil {
			t.Fatalf("Exchange() error = %v", err)
		}
		if token := resp.(*TokenResponse); token.RefreshToken != "" {
			t.Errorf("RefreshToken = %q, want empty when not rotated", token.RefreshToken)
		}
	})
}

func deviceRequest(deviceCode string, now time.Time) *TokenRequest {
	return &TokenRequest{
		GrantType:    GrantTypeDeviceToken,
		ClientID:     "c1",
		ClientSecret: "s1",
		DeviceCode:   deviceCode,
		Now:          now,
	}
}

func TestExchange_DeviceFlow(t *testing.T) {
	ctx := context.Background()

	start := func(t *testing.T) (*Server, *fakeDeviceStore, *DeviceAuthorizationResponse) {
		t.Helper()
		store := newFakeDeviceStore()
		srv := newTestServer(t, store)

		resp, err := srv.Exchange(ctx, &TokenRequest{
			GrantType:    GrantTypeDeviceCode,
			ClientID:     "c1",
			ClientSecret: "s1",
			Scope:        "read",
			Now:          baseTime,
		})
		if err != nil {
			t.Fatalf("device_code exchange error = %v", err)
		}
		pair, ok := resp.(*DeviceAuthorizationResponse)
		if !ok {
			t.Fatalf("response = %T, want *DeviceAuthorizationResponse", resp)
		}
		return srv, store, pair
	}

	t.Run("code pair shape", func(t *testing.T) {
		_, _, pair := start(t)
		if pair.DeviceCode == "" || pair.UserCode == "" {
			t.Errorf("incomplete pair: %+v", pair)
		}
		if pair.VerificationURI != "https://auth.example.com/device" {
			t.Errorf("VerificationURI = %q", pair.VerificationURI)
		}
		if pair.Interval != 5 {
			t.Errorf("Interval = %d, want 5", pair.Interval)
		}
		if pair.ExpiresIn != 1800 {
			t.Errorf("ExpiresIn = %d, want 1800", pair.ExpiresIn)
		}
	})

	t.Run("pending then paced", func(t *testing.T) {
		srv, _, pair := start(t)

		_, err := srv.Exchange(ctx, deviceRequest(pair.DeviceCode, baseTime.Add(10*time.Second)))
		wantProtocolError(t, err, ErrorCodeAuthorizationPending)

		// Within the 5s interval of the previous poll.
		_, err = srv.Exchange(ctx, deviceRequest(pair.DeviceCode, baseTime.Add(12*time.Second)))
		wantProtocolError(t, err, ErrorCodeSlowDown)

		// The hasty poll restarted the window too.
		_, err = srv.Exchange(ctx, deviceRequest(pair.DeviceCode, baseTime.Add(14*time.Second)))
		wantProtocolError(t, err, ErrorCodeSlowDown)

		_, err = srv.Exchange(ctx, deviceRequest(pair.DeviceCode, baseTime.Add(25*time.Second)))
		wantProtocolError(t, err, ErrorCodeAuthorizationPending)
	})

	t.Run("pacing outranks a waiting decision", func(t *testing.T) {
		srv, store, pair := start(t)

		_, err := srv.Exchange(ctx, deviceRequest(pair.DeviceCode, baseTime.Add(10*time.Second)))
		wantProtocolError(t, err, ErrorCodeAuthorizationPending)

		if err := store.ApproveDeviceAuthorization(ctx, pair.UserCode, "user-alice"); err != nil {
			t.Fatalf("approve error = %v", err)
		}

		_, err = srv.Exchange(ctx, deviceRequest(pair.DeviceCode, baseTime.Add(12*time.Second)))
		wantProtocolError(t, err, ErrorCodeSlowDown)

		// The decision is still there for the next well-paced poll.
		resp, err := srv.Exchange(ctx, deviceRequest(pair.DeviceCode, baseTime.Add(20*time.Second)))
		if err != nil {
			t.Fatalf("well-paced poll error = %v", err)
		}
		token := resp.(*TokenResponse)
		if token.AccessToken == "" || token.Scope != "read" {
			t.Errorf("token response = %+v", token)
		}
	})

	t.Run("approved code redeems once", func(t *testing.T) {
		srv, store, pair := start(t)
		if err := store.ApproveDeviceAuthorization(ctx, pair.UserCode, "user-alice"); err != nil {
			t.Fatalf("approve error = %v", err)
		}

		if _, err := srv.Exchange(ctx, deviceRequest(pair.DeviceCode, baseTime.Add(10*time.Second))); err != nil {
			t.Fatalf("redeem error = %v", err)
		}
		_, err := srv.Exchange(ctx, deviceRequest(pair.DeviceCode, baseTime.Add(20*time.Second)))
		wantProtocolError(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("denied", func(t *testing.T) {
		srv, store, pair := start(t)
		if err := store.DenyDeviceAuthorization(ctx, pair.UserCode); err != nil {
			t.Fatalf("deny error = %v", err)
		}
		_, err := srv.Exchange(ctx, deviceRequest(pair.DeviceCode, baseTime.Add(10*time.Second)))
		wantProtocolError(t, err, ErrorCodeAccessDenied)
	})

	t.Run("expired device code", func(t *testing.T) {
		srv, _, pair := start(t)
		_, err := srv.Exchange(ctx, deviceRequest(pair.DeviceCode, baseTime.Add(31*time.Minute)))
		wantProtocolError(t, err, ErrorCodeExpiredToken)
	})

	t.Run("device code issued to another client", func(t *testing.T) {
		srv, store, pair := start(t)
		store.addClient(&storage.Client{ClientID: "c2"}, "s2")

		_, err := srv.Exchange(ctx, &TokenRequest{
			GrantType:    GrantTypeDeviceToken,
			ClientID:     "c2",
			ClientSecret: "s2",
			DeviceCode:   pair.DeviceCode,
			Now:          baseTime.Add(10 * time.Second),
		})
		wantProtocolError(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("device grants unavailable without the capability", func(t *testing.T) {
		srv := newTestServer(t, newFakeStore())
		_, err := srv.Exchange(ctx, &TokenRequest{
			GrantType:    GrantTypeDeviceCode,
			ClientID:     "c1",
			ClientSecret: "s1",
			Now:          baseTime,
		})
		wantProtocolError(t, err, ErrorCodeUnsupportedGrantType)
	})
}

func TestExchange_StorageFailureCollapses(t *testing.T) {
	store := newFakeStore()
	store.failOp = "create_or_update_access_token"
	srv := newTestServer(t, store)

	_, err := srv.Exchange(context.Background(), &TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     "c1",
		ClientSecret: "s1",
		Now:          baseTime,
	})
	oe := wantProtocolError(t, err, ErrorCodeServerError)
	if strings.Contains(oe.Description, "backend down") {
		t.Errorf("storage detail leaked to the client: %q", oe.Description)
	}
}

func TestVerifyAccessToken(t *testing.T) {
	ctx := context.Background()

	issue := func(t *testing.T, store *fakeStore) (*Server, string) {
		t.Helper()
		srv := newTestServer(t, store)
		resp, err := srv.Exchange(ctx, &TokenRequest{
			GrantType:    GrantTypePassword,
			ClientID:     "c1",
			ClientSecret: "s1",
			Username:     "alice",
			Password:     "wonderland",
			Scope:        "read",
			Now:          baseTime,
		})
		if err != nil {
			t.Fatalf("issue error = %v", err)
		}
		return srv, resp.(*TokenResponse).AccessToken
	}

	t.Run("valid token resolves its grant", func(t *testing.T) {
		srv, token := issue(t, newFakeStore())

		accessToken, info, err := srv.VerifyAccessToken(ctx, token, baseTime.Add(time.Minute))
		if err != nil {
			t.Fatalf("VerifyAccessToken() error = %v", err)
		}
		if accessToken.Token != token {
			t.Errorf("Token = %q, want %q", accessToken.Token, token)
		}
		if info.UserID != "user-alice" || info.Scope != "read" {
			t.Errorf("grant = %+v", info)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		srv := newTestServer(t, newFakeStore())
		_, _, err := srv.VerifyAccessToken(ctx, "", baseTime)
		wantProtocolError(t, err, ErrorCodeInvalidToken)
	})

	t.Run("unknown token", func(t *testing.T) {
		srv := newTestServer(t, newFakeStore())
		_, _, err := srv.VerifyAccessToken(ctx, "no-such-token", baseTime)
		wantProtocolError(t, err, ErrorCodeInvalidToken)
	})

	t.Run("expiry honors the skew grace", func(t *testing.T) {
		srv, token := issue(t, newFakeStore())

		// 3600s lifetime, 5s grace: 3603s after issuance is still live,
		// 3606s is not.
		if _, _, err := srv.VerifyAccessToken(ctx, token, baseTime.Add(3603*time.Second)); err != nil {
			t.Errorf("token inside the grace window rejected: %v", err)
		}
		_, _, err := srv.VerifyAccessToken(ctx, token, baseTime.Add(3606*time.Second))
		wantProtocolError(t, err, ErrorCodeInvalidToken)
	})

	t.Run("token without a grant is revoked", func(t *testing.T) {
		store := newFakeStore()
		srv, token := issue(t, store)

		store.mu.Lock()
		for id := range store.grants {
			delete(store.grants, id)
		}
		store.mu.Unlock()

		_, _, err := srv.VerifyAccessToken(ctx, token, baseTime.Add(time.Minute))
		wantProtocolError(t, err, ErrorCodeInvalidToken)
	})
}
