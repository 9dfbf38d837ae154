package server

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes form the closed protocol vocabulary. Every failure surfaced to a
// client maps onto exactly one of these; anything else is a host-side defect
// and is reported as ErrorCodeServerError.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeRedirectURIMismatch     = "redirect_uri_mismatch"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeInsufficientScope       = "insufficient_scope"
	ErrorCodeAuthorizationPending    = "authorization_pending"
	ErrorCodeSlowDown                = "slow_down"
	ErrorCodeExpiredToken            = "expired_token"
	ErrorCodeServerError             = "server_error"
)

// Error is the protocol error. Code is always one of the ErrorCode constants,
// Description is safe to show to clients, and Status is the HTTP status the
// transport layer should use when this error terminates a request.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	Status      int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithStatus returns a copy carrying a different HTTP status. Used by the
// transport layer, e.g. to raise invalid_client to 401 when the client
// authenticated via the Authorization header.
func (e *Error) WithStatus(status int) *Error {
	dup := *e
	dup.Status = status
	return &dup
}

// NewError builds a protocol error with an explicit status. Prefer the
// constructor variables below for the standard codes.
func NewError(code, description string, status int) *Error {
	return &Error{Code: code, Description: description, Status: status}
}

// Constructors for the standard codes. Kept as variables so hosts can wrap
// them for testing or swap descriptions wholesale.
var (
	ErrInvalidRequest = func(description string) *Error {
		return NewError(ErrorCodeInvalidRequest, description, http.StatusBadRequest)
	}
	ErrInvalidClient = func(description string) *Error {
		return NewError(ErrorCodeInvalidClient, description, http.StatusBadRequest)
	}
	ErrUnauthorizedClient = func(description string) *Error {
		return NewError(ErrorCodeUnauthorizedClient, description, http.StatusBadRequest)
	}
	ErrRedirectURIMismatch = func(description string) *Error {
		return NewError(ErrorCodeRedirectURIMismatch, description, http.StatusBadRequest)
	}
	ErrAccessDenied = func(description string) *Error {
		return NewError(ErrorCodeAccessDenied, description, http.StatusBadRequest)
	}
	ErrUnsupportedResponseType = func(description string) *Error {
		return NewError(ErrorCodeUnsupportedResponseType, description, http.StatusBadRequest)
	}
	ErrUnsupportedGrantType = func(description string) *Error {
		return NewError(ErrorCodeUnsupportedGrantType, description, http.StatusBadRequest)
	}
	ErrInvalidScope = func(description string) *Error {
		return NewError(ErrorCodeInvalidScope, description, http.StatusBadRequest)
	}
	ErrInvalidGrant = func(description string) *Error {
		return NewError(ErrorCodeInvalidGrant, description, http.StatusBadRequest)
	}
	ErrInvalidToken = func(description string) *Error {
		return NewError(ErrorCodeInvalidToken, description, http.StatusUnauthorized)
	}
	ErrInsufficientScope = func(description string) *Error {
		return NewError(ErrorCodeInsufficientScope, description, http.StatusForbidden)
	}
	ErrAuthorizationPending = func(description string) *Error {
		return NewError(ErrorCodeAuthorizationPending, description, http.StatusBadRequest)
	}
	ErrSlowDown = func(description string) *Error {
		return NewError(ErrorCodeSlowDown, description, http.StatusBadRequest)
	}
	ErrExpiredToken = func(description string) *Error {
		return NewError(ErrorCodeExpiredToken, description, http.StatusBadRequest)
	}
	ErrServerError = func(description string) *Error {
		return NewError(ErrorCodeServerError, description, http.StatusInternalServerError)
	}
)

// AsError coerces any error into a protocol *Error. Non-protocol errors
// collapse to server_error so storage internals never leak to clients.
func AsError(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return ErrServerError("internal error")
}
