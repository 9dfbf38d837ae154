package storage

import (
	"strings"
	"time"
)

// Client is a registered OAuth client. Clients are provisioned by the host;
// the core only reads them.
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash, never the raw secret
	ClientName       string
	RedirectURIs     []string // exact-match whitelist for redirect-based flows
	GrantTypes       []string // allowed grant types; empty allows all
	Scopes           []string // grantable scopes; empty allows any
	CreatedAt        time.Time
}

// AllowsGrantType reports whether the client may use the grant type.
// An empty GrantTypes list allows every grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	if len(c.GrantTypes) == 0 {
		return true
	}
	for _, gt := range c.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether the URI is on the client's whitelist.
// Matching is exact: no prefix or wildcard semantics.
func (c *Client) AllowsRedirectURI(uri string) bool {
	if uri == "" {
		return false
	}
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AllowsScope reports whether every scope token in scope is grantable to
// the client. An empty Scopes list allows any scope.
func (c *Client) AllowsScope(scope string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	return ScopeSubset(scope, strings.Join(c.Scopes, " "))
}

// AuthInfo is an authorization grant: a resource owner's (or, for
// client-credentials grants, the client's own) authorization to obtain
// tokens of a given scope. It is durable — refresh exchanges resolve it
// long after the single-use code is gone.
type AuthInfo struct {
	ID           string
	ClientID     string
	UserID       string // empty for client-credentials grants
	Scope        string // space-delimited scope set
	RedirectURI  string // redirect binding for the code exchange, if any
	Code         string // single-use authorization code
	RefreshToken string
	Used         bool // code consumed
	CreatedAt    time.Time
	ExpiresAt    time.Time // end of the code exchange window
}

// CodeExpired reports whether the code exchange window has passed.
func (a *AuthInfo) CodeExpired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// AccessToken is an opaque bearer credential. Owner, resource owner, and
// scope resolve through the grant it references (GetAuthInfoByID); the
// token itself is immutable after issuance.
type AccessToken struct {
	Token     string
	AuthID    string // owning grant
	IssuedAt  time.Time
	ExpiresIn int64 // seconds
}

// ExpiresAt returns the token's expiry instant.
func (t *AccessToken) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Expired reports whether the token has expired relative to now.
func (t *AccessToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt())
}

// Device authorization states.
const (
	DeviceStatusPending  = "pending"
	DeviceStatusApproved = "approved"
	DeviceStatusDenied   = "denied"
)

// DeviceAuthorization is the pre-approval state of a device grant: the code
// pair issued to the device while it waits for the resource owner to enter
// the user code on another surface.
type DeviceAuthorization struct {
	DeviceCode   string
	UserCode     string
	ClientID     string
	Scope        string
	Status       string // pending, approved, or denied
	UserID       string // set on approval
	Interval     int64  // minimum seconds between polls
	LastPolledAt time.Time
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the device code expired relative to now.
func (d *DeviceAuthorization) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt)
}

// SplitScope splits a space-delimited scope string into its tokens.
// Scope has set semantics: no ordering, duplicates are meaningless.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}

// ScopeSubset reports whether every token in sub also appears in super.
// The empty scope is a subset of everything.
func ScopeSubset(sub, super string) bool {
	have := make(map[string]bool)
	for _, s := range SplitScope(super) {
		have[s] = true
	}
	for _, s := range SplitScope(sub) {
		if !have[s] {
			return false
		}
	}
	return true
}
