package oauth

import (
	"log/slog"
	"net/http"
)

// Default endpoint paths registered by Handler.RegisterRoutes.
const (
	DefaultTokenPath     = "/token"
	DefaultAuthorizePath = "/authorize"
	DefaultDevicePath    = "/device"
)

// DefaultRealm is the realm advertised in WWW-Authenticate challenges when
// the host does not set one.
const DefaultRealm = "oauth"

// Config carries the HTTP layer's settings. Engine-level settings live on
// server.Config; store policy (token lifetimes, rotation) lives with the
// Data Handler.
type Config struct {
	// TokenPath, AuthorizePath and DevicePath are the paths RegisterRoutes
	// claims on the mux.
	TokenPath     string
	AuthorizePath string
	DevicePath    string

	// Realm appears in WWW-Authenticate challenges from the token endpoint
	// and the resource guard.
	Realm string

	// DefaultFormat is the token endpoint's encoding when the request
	// carries no format parameter. Defaults to JSON.
	DefaultFormat Format

	// TrustProxy enables X-Forwarded-For/X-Real-IP handling when deriving
	// client IPs. Only enable behind a proxy you control.
	TrustProxy        bool
	TrustedProxyCount int

	// Authenticator resolves the resource owner for end-user endpoint
	// requests. When nil, the user ID is read from the request context
	// (ContextWithUserID). The endpoint rejects decisions without an
	// authenticated user either way.
	Authenticator func(r *http.Request) (string, error)

	// ConsentTemplate overrides the built-in consent page. It is parsed
	// with html/template and executed with a *ConsentData.
	ConsentTemplate string

	// DeviceTemplate overrides the built-in device verification page,
	// executed with a *DeviceVerificationData.
	DeviceTemplate string
}

// applySecureDefaults fills zero values with safe defaults.
func (c *Config) applySecureDefaults() {
	if c.TokenPath == "" {
		c.TokenPath = DefaultTokenPath
	}
	if c.AuthorizePath == "" {
		c.AuthorizePath = DefaultAuthorizePath
	}
	if c.DevicePath == "" {
		c.DevicePath = DefaultDevicePath
	}
	if c.Realm == "" {
		c.Realm = DefaultRealm
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = FormatJSON
	}
}

// logSecurityWarnings reports risky settings.
func (c *Config) logSecurityWarnings(logger *slog.Logger) {
	if c.TrustProxy && c.TrustedProxyCount == 0 {
		logger.Warn("⚠️ proxy trust enabled without a trusted proxy count",
			"recommendation", "set TrustedProxyCount to the number of proxies you control; defaulting to 1")
	}
	if !c.TrustProxy && c.TrustedProxyCount > 0 {
		logger.Warn("trusted proxy count set but proxy trust is disabled",
			"trusted_proxy_count", c.TrustedProxyCount)
	}
}
