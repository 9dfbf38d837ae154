// Package testutil provides testing utilities and helpers for the oauth2-kit
// library.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-kit/storage"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.now = t
}

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// TestClient creates a registered client fixture whose secret verifies
// against the given plaintext. An empty secret yields a public client.
func TestClient(t *testing.T, clientID, secret string) *storage.Client {
	t.Helper()

	var hash string
	if secret != "" {
		var err error
		hash, err = storage.HashClientSecret(secret)
		if err != nil {
			t.Fatalf("failed to hash client secret: %v", err)
		}
	}
	return &storage.Client{
		ClientID:         clientID,
		ClientSecretHash: hash,
		ClientName:       "Test Client",
		RedirectURIs:     []string{"https://example.com/callback"},
		Scopes:           []string{"read", "write"},
		CreatedAt:        time.Now(),
	}
}

// TestAuthInfo creates a grant fixture with fresh code and refresh token
// values and a ten minute exchange window.
func TestAuthInfo(clientID, userID, scope string) *storage.AuthInfo {
	now := time.Now()
	return &storage.AuthInfo{
		ID:           GenerateRandomString(16),
		ClientID:     clientID,
		UserID:       userID,
		Scope:        scope,
		Code:         storage.GenerateToken(),
		RefreshToken: storage.GenerateToken(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(10 * time.Minute),
	}
}

// TestAccessToken creates an access token fixture bound to the given grant,
// valid for an hour from now.
func TestAccessToken(authID string) *storage.AccessToken {
	return &storage.AccessToken{
		Token:     storage.GenerateToken(),
		AuthID:    authID,
		IssuedAt:  time.Now(),
		ExpiresIn: 3600,
	}
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertNotEqual fails the test if got == want
func AssertNotEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got == want {
		t.Errorf("got %v, want different value", got)
	}
}

// AssertStringContains fails the test if s does not contain substr
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("string %q does not contain %q", s, substr)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertFalse fails the test if condition is true
func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertTimeEqual asserts two times are equal within a tolerance
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("time mismatch: got %v, want %v (tolerance: %v, diff: %v)", got, want, tolerance, diff)
	}
}

// FormRequest builds a form-encoded POST, the token endpoint's native wire
// shape.
func FormRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// Do runs the request through the handler and returns the recorded response.
func Do(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
