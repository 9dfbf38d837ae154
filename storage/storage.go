package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Data Handler implementations. Flows translate
// these into protocol errors at the flow boundary; any other error is
// treated as a host failure and surfaces as server_error.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("storage: not found")

	// ErrDenied indicates the operation was rejected by policy
	// (bad credentials, scope not grantable, redirect URI not registered)
	ErrDenied = errors.New("storage: denied")

	// ErrGrantUsed indicates the grant's authorization code was already
	// consumed. MarkAuthInfoUsed reports it so a concurrent duplicate
	// exchange observes the first consumption.
	ErrGrantUsed = errors.New("storage: grant already used")
)

// ClientStore authenticates clients and answers policy questions about them.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// ValidateClient authenticates a client requesting the given grant
	// type. Implementations MUST compare secrets in constant time (the
	// reference stores use bcrypt). Returns ErrDenied when authentication
	// fails. The grant type is advisory (auditing, host policy);
	// grant-type authorization itself is enforced by the core from
	// Client.GrantTypes so policy failures never surface as invalid_client.
	ValidateClient(ctx context.Context, clientID, clientSecret, grantType string) (*Client, error)

	// GetClient retrieves a client without authenticating it. The
	// end-user endpoint uses this where no client secret is presented.
	// Returns ErrNotFound for unknown clients.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateScope reports whether the scope may be granted to the
	// client. Returns ErrDenied when it may not.
	ValidateScope(ctx context.Context, clientID, scope string) error

	// ValidateRedirectURI reports whether the redirect URI is registered
	// for the client. Returns ErrDenied when it is not, including for
	// unknown clients.
	ValidateRedirectURI(ctx context.Context, clientID, redirectURI string) error
}

// UserStore authenticates resource owners for the password grant.
type UserStore interface {
	// AuthenticateUser verifies resource owner credentials and returns
	// the user's identifier. Returns ErrDenied on bad credentials without
	// distinguishing unknown users from wrong passwords.
	AuthenticateUser(ctx context.Context, username, password string) (string, error)
}

// GrantStore persists authorization grants.
// All methods accept context.Context for tracing and cancellation.
type GrantStore interface {
	// CreateOrUpdateAuthInfo creates a grant for (clientID, userID), or
	// updates the existing one with the new scope and redirect URI. The
	// implementation mints ID, Code, and RefreshToken; a fresh single-use
	// code is issued on every call, the refresh token persists across
	// updates unless the host rotates it.
	CreateOrUpdateAuthInfo(ctx context.Context, clientID, userID, scope, redirectURI string) (*AuthInfo, error)

	// GetAuthInfoByID retrieves a grant by its identifier
	GetAuthInfoByID(ctx context.Context, id string) (*AuthInfo, error)

	// GetAuthInfoByCode retrieves a grant by its authorization code
	GetAuthInfoByCode(ctx context.Context, code string) (*AuthInfo, error)

	// GetAuthInfoByRefreshToken retrieves a grant by its refresh token
	GetAuthInfoByRefreshToken(ctx context.Context, refreshToken string) (*AuthInfo, error)

	// MarkAuthInfoUsed marks the grant's code as consumed. The state
	// effect is idempotent, but a second mark MUST report ErrGrantUsed so
	// callers observe prior consumption.
	// SECURITY: the check-and-mark MUST be atomic under the host's
	// concurrency model. A non-atomic implementation permits concurrent
	// authorization code replay and is a host bug.
	MarkAuthInfoUsed(ctx context.Context, id string) error
}

// TokenStore mints and resolves access tokens.
type TokenStore interface {
	// CreateOrUpdateAccessToken mints an access token for the grant, or
	// replaces the grant's current one. TTL policy belongs to the
	// implementation. Refresh-token rotation, where the host wants it,
	// happens here by rewriting AuthInfo.RefreshToken; the refresh flow
	// re-reads the grant afterwards and exposes the outcome either way.
	CreateOrUpdateAccessToken(ctx context.Context, authInfo *AuthInfo) (*AccessToken, error)

	// GetAccessToken resolves a bearer string. Returns ErrNotFound for
	// unknown tokens. Expiry is judged by the caller against the request's
	// own now, not here.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)
}

// DataHandler is the complete contract the authorization server core calls
// into. The core never touches storage directly and only asks for tokens
// after the corresponding grant has been validated.
type DataHandler interface {
	ClientStore
	UserStore
	GrantStore
	TokenStore
}

// DeviceStore is an optional capability interface for the device grant
// pair. The engine serves the device_code and device_token grant types only
// when the Data Handler implements it.
// All methods accept context.Context for tracing and cancellation.
type DeviceStore interface {
	// CreateDeviceAuthorization mints a pending device authorization for
	// the client and scope. The implementation chooses device code, user
	// code, minimum poll interval, and expiry.
	CreateDeviceAuthorization(ctx context.Context, clientID, scope string) (*DeviceAuthorization, error)

	// GetDeviceAuthorizationByUserCode retrieves a device authorization by
	// its user code. Used by the host's verification UI.
	GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*DeviceAuthorization, error)

	// ApproveDeviceAuthorization binds the pending authorization to the
	// resource owner. Returns ErrNotFound for unknown or expired codes.
	ApproveDeviceAuthorization(ctx context.Context, userCode, userID string) error

	// DenyDeviceAuthorization records the resource owner's refusal.
	DenyDeviceAuthorization(ctx context.Context, userCode string) error

	// TouchDevicePoll records a poll at now and returns the authorization
	// as of the previous poll (LastPolledAt is the prior poll time, zero
	// for the first poll). Every poll restarts the interval window.
	// SECURITY: read-and-touch MUST be atomic so concurrent polls cannot
	// both observe an open interval window.
	TouchDevicePoll(ctx context.Context, deviceCode string, now time.Time) (*DeviceAuthorization, error)

	// ConsumeDeviceAuthorization atomically removes a decided (approved or
	// denied) authorization and returns it. A second concurrent consume
	// returns ErrNotFound, which keeps token issuance at-most-once per
	// device code.
	ConsumeDeviceAuthorization(ctx context.Context, deviceCode string) (*DeviceAuthorization, error)
}
