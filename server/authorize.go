package server

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-kit/storage"
)

// AuthorizationRequest is the parsed end-user authorization request. Now is
// sampled once when the request is admitted.
type AuthorizationRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
	Now          time.Time
}

// AuthorizationTarget is a validated client and redirect destination.
// ValidateAuthorizationRequest returns it even alongside an error when the
// destination itself checked out, so the caller can deliver the error by
// redirect instead of rendering it.
type AuthorizationTarget struct {
	Client      *storage.Client
	RedirectURI string
}

// ValidateAuthorizationRequest checks an authorization request in guard
// order. Failures before the redirect URI is trusted return a nil target
// and must be rendered to the user; failures after return the target so the
// error travels back to the client via redirect.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, ar *AuthorizationRequest) (*AuthorizationTarget, error) {
	if ar.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := s.handler.GetClient(ctx, ar.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidClient("unknown client")
		}
		return nil, s.storageError(err, "get_client")
	}

	if ar.RedirectURI == "" {
		return nil, ErrInvalidRequest("redirect_uri is required")
	}
	if err := s.handler.ValidateRedirectURI(ctx, ar.ClientID, ar.RedirectURI); err != nil {
		if errors.Is(err, storage.ErrDenied) || errors.Is(err, storage.ErrNotFound) {
			s.Logger.Warn("authorization request with unregistered redirect URI",
				"client_id", ar.ClientID,
				"redirect_uri", ar.RedirectURI)
			return nil, ErrRedirectURIMismatch("redirect_uri is not registered for this client")
		}
		return nil, s.storageError(err, "validate_redirect_uri")
	}

	target := &AuthorizationTarget{Client: client, RedirectURI: ar.RedirectURI}

	switch ar.ResponseType {
	case ResponseTypeCode, ResponseTypeToken:
	case "":
		return target, ErrInvalidRequest("response_type is required")
	default:
		return target, ErrUnsupportedResponseType("response_type must be code or token")
	}

	if ar.Scope != "" {
		if err := s.handler.ValidateScope(ctx, ar.ClientID, ar.Scope); err != nil {
			if errors.Is(err, storage.ErrDenied) {
				return target, ErrInvalidScope("requested scope is not grantable")
			}
			return target, s.storageError(err, "validate_scope")
		}
	}

	return target, nil
}

// ApproveAuthorization records the resource owner's approval and returns the
// redirect URL delivering the result: an authorization code in the query for
// response_type=code, a token in the fragment for response_type=token.
func (s *Server) ApproveAuthorization(ctx context.Context, ar *AuthorizationRequest, userID string) (string, error) {
	if userID == "" {
		s.Logger.Error("authorization approval without an authenticated user", "client_id", ar.ClientID)
		return "", ErrServerError("internal error")
	}
	if ar.Now.IsZero() {
		ar.Now = time.Now()
	}

	target, err := s.ValidateAuthorizationRequest(ctx, ar)
	if err != nil {
		return "", err
	}

	info, err := s.handler.CreateOrUpdateAuthInfo(ctx, ar.ClientID, userID, ar.Scope, ar.RedirectURI)
	if err != nil {
		return "", s.storageError(err, "create_or_update_auth_info")
	}

	s.Auditor.LogAuthorizationDecision(ar.ClientID, userID, ar.ResponseType, true)

	switch ar.ResponseType {
	case ResponseTypeCode:
		return appendQuery(target.RedirectURI, [][2]string{
			{"code", info.Code},
			{"state", ar.State},
		}), nil

	case ResponseTypeToken:
		token, err := s.handler.CreateOrUpdateAccessToken(ctx, info)
		if err != nil {
			return "", s.storageError(err, "create_or_update_access_token")
		}
		return appendFragment(target.RedirectURI, [][2]string{
			{"access_token", token.Token},
			{"token_type", TokenTypeBearer},
			{"expires_in", strconv.FormatInt(token.ExpiresIn, 10)},
			{"scope", info.Scope},
			{"state", ar.State},
		}), nil

	default:
		// ValidateAuthorizationRequest already rejected anything else.
		return "", ErrUnsupportedResponseType("response_type must be code or token")
	}
}

// DenyAuthorization records the resource owner's refusal and returns the
// redirect URL carrying error=access_denied back to the client.
func (s *Server) DenyAuthorization(ctx context.Context, ar *AuthorizationRequest) (string, error) {
	target, err := s.ValidateAuthorizationRequest(ctx, ar)
	if err != nil {
		return "", err
	}

	s.Auditor.LogAuthorizationDecision(ar.ClientID, "", ar.ResponseType, false)

	return s.ErrorRedirectURL(target, ar, ErrAccessDenied("the user denied the request")), nil
}

// ErrorRedirectURL builds the redirect delivering a protocol error to the
// client: query-encoded for response_type=code, fragment-encoded for
// response_type=token.
func (s *Server) ErrorRedirectURL(target *AuthorizationTarget, ar *AuthorizationRequest, oerr *Error) string {
	pairs := [][2]string{
		{"error", oerr.Code},
		{"error_description", oerr.Description},
		{"error_uri", oerr.URI},
		{"state", ar.State},
	}
	if ar.ResponseType == ResponseTypeToken {
		return appendFragment(target.RedirectURI, pairs)
	}
	return appendQuery(target.RedirectURI, pairs)
}

// DeviceAuthorizationByUserCode resolves a user code for the host's
// verification UI. Only pending, unexpired authorizations resolve.
func (s *Server) DeviceAuthorizationByUserCode(ctx context.Context, userCode string, now time.Time) (*storage.DeviceAuthorization, error) {
	if s.device == nil {
		return nil, ErrServerError("device authorization is not supported")
	}
	if userCode == "" {
		return nil, ErrInvalidRequest("user code is required")
	}

	rec, err := s.device.GetDeviceAuthorizationByUserCode(ctx, userCode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant("unknown user code")
		}
		return nil, s.storageError(err, "get_device_authorization_by_user_code")
	}
	if rec.Expired(now) {
		return nil, ErrExpiredToken("user code expired")
	}
	if rec.Status != storage.DeviceStatusPending {
		return nil, ErrInvalidGrant("user code already decided")
	}
	return rec, nil
}

// ApproveDeviceAuthorization binds a pending device authorization to the
// resource owner. The polling device learns the outcome on its next
// well-paced poll.
func (s *Server) ApproveDeviceAuthorization(ctx context.Context, userCode, userID string, now time.Time) error {
	if userID == "" {
		return ErrServerError("internal error")
	}
	rec, err := s.DeviceAuthorizationByUserCode(ctx, userCode, now)
	if err != nil {
		return err
	}
	if err := s.device.ApproveDeviceAuthorization(ctx, userCode, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidGrant("unknown user code")
		}
		return s.storageError(err, "approve_device_authorization")
	}
	s.Auditor.LogDeviceDecision(rec.ClientID, userID, true)
	return nil
}

// DenyDeviceAuthorization records the resource owner's refusal of a pending
// device authorization.
func (s *Server) DenyDeviceAuthorization(ctx context.Context, userCode string, now time.Time) error {
	rec, err := s.DeviceAuthorizationByUserCode(ctx, userCode, now)
	if err != nil {
		return err
	}
	if err := s.device.DenyDeviceAuthorization(ctx, userCode); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidGrant("unknown user code")
		}
		return s.storageError(err, "deny_device_authorization")
	}
	s.Auditor.LogDeviceDecision(rec.ClientID, "", false)
	return nil
}

// appendQuery appends pairs to the URL's query component, preserving any
// query already present. Pairs with empty values are dropped; pair order is
// preserved so redirects are reproducible.
func appendQuery(base string, pairs [][2]string) string {
	var b strings.Builder
	b.WriteString(base)
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		b.WriteString(sep)
		sep = "&"
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}
	return b.String()
}

// appendFragment appends pairs as the URL's fragment component.
func appendFragment(base string, pairs [][2]string) string {
	var b strings.Builder
	b.WriteString(base)
	sep := "#"
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		b.WriteString(sep)
		sep = "&"
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}
	return b.String()
}
