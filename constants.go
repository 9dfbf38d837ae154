package oauth

import (
	"github.com/giantswarm/oauth2-kit/server"
	"github.com/giantswarm/oauth2-kit/storage"
)

// Grant types served by the built-in flows.
const (
	GrantTypeAuthorizationCode = server.GrantTypeAuthorizationCode
	GrantTypePassword          = server.GrantTypePassword
	GrantTypeClientCredentials = server.GrantTypeClientCredentials
	GrantTypeRefreshToken      = server.GrantTypeRefreshToken
	GrantTypeDeviceCode        = server.GrantTypeDeviceCode
	GrantTypeDeviceToken       = server.GrantTypeDeviceToken
)

// Response types accepted at the end-user authorization endpoint.
const (
	ResponseTypeCode  = server.ResponseTypeCode
	ResponseTypeToken = server.ResponseTypeToken
)

// TokenTypeBearer is the only token type this library issues.
const TokenTypeBearer = server.TokenTypeBearer

// Bearer token form/query parameter names recognized by the guard. Draft-era
// clients send oauth_token; access_token is the modern spelling.
const (
	BearerParamOAuthToken  = "oauth_token"
	BearerParamAccessToken = "access_token"
)

// Lifecycle policy defaults declared by the reference stores.
const (
	DefaultAccessTokenTTL       = storage.DefaultAccessTokenTTL
	DefaultAuthorizationCodeTTL = storage.DefaultAuthorizationCodeTTL
	DefaultRefreshTokenTTL      = storage.DefaultRefreshTokenTTL
	DefaultDeviceCodeTTL        = storage.DefaultDeviceCodeTTL
	DefaultCleanupInterval      = storage.DefaultCleanupInterval
	DefaultDevicePollInterval   = storage.DefaultDevicePollInterval
)

// ClockSkewGrace is the default clock skew tolerance in seconds.
const ClockSkewGrace = server.DefaultClockSkewGracePeriod

// Default token endpoint rate limiting, per client IP.
const (
	// DefaultRateLimitRate is requests per second per key.
	DefaultRateLimitRate = 10

	// DefaultRateLimitBurst is the per-key burst allowance.
	DefaultRateLimitBurst = 20
)

// UserCodeLength sizes the short code users type in the device flow.
const UserCodeLength = storage.DefaultUserCodeLength
