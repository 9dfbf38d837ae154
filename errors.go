package oauth

import "github.com/giantswarm/oauth2-kit/server"

// The protocol error type and its closed code set live in the server
// package; the root package re-exports them so hosts work with oauth.Error
// without importing server directly. The root package imports server, so the
// canonical definitions cannot live here.

// Error is the protocol error produced by flows, endpoints, and the guard.
type Error = server.Error

// Error codes. The set is closed: every client-visible failure carries one
// of these, with server_error covering host-side faults.
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeUnauthorizedClient      = server.ErrorCodeUnauthorizedClient
	ErrorCodeRedirectURIMismatch     = server.ErrorCodeRedirectURIMismatch
	ErrorCodeAccessDenied            = server.ErrorCodeAccessDenied
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeInvalidScope            = server.ErrorCodeInvalidScope
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidToken            = server.ErrorCodeInvalidToken
	ErrorCodeInsufficientScope       = server.ErrorCodeInsufficientScope
	ErrorCodeAuthorizationPending    = server.ErrorCodeAuthorizationPending
	ErrorCodeSlowDown                = server.ErrorCodeSlowDown
	ErrorCodeExpiredToken            = server.ErrorCodeExpiredToken
	ErrorCodeServerError             = server.ErrorCodeServerError
)

// Constructors for the standard codes.
var (
	ErrInvalidRequest          = server.ErrInvalidRequest
	ErrInvalidClient           = server.ErrInvalidClient
	ErrUnauthorizedClient      = server.ErrUnauthorizedClient
	ErrRedirectURIMismatch     = server.ErrRedirectURIMismatch
	ErrAccessDenied            = server.ErrAccessDenied
	ErrUnsupportedResponseType = server.ErrUnsupportedResponseType
	ErrUnsupportedGrantType    = server.ErrUnsupportedGrantType
	ErrInvalidScope            = server.ErrInvalidScope
	ErrInvalidGrant            = server.ErrInvalidGrant
	ErrInvalidToken            = server.ErrInvalidToken
	ErrInsufficientScope       = server.ErrInsufficientScope
	ErrAuthorizationPending    = server.ErrAuthorizationPending
	ErrSlowDown                = server.ErrSlowDown
	ErrExpiredToken            = server.ErrExpiredToken
	ErrServerError             = server.ErrServerError
)

// NewError builds a protocol error with an explicit status.
var NewError = server.NewError

// AsError coerces any error into a protocol *Error, collapsing non-protocol
// errors to server_error.
var AsError = server.AsError
