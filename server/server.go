package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/giantswarm/oauth2-kit/instrumentation"
	"github.com/giantswarm/oauth2-kit/security"
	"github.com/giantswarm/oauth2-kit/storage"
)

// safeTruncate safely truncates a string to maxLen characters without panicking.
// Used when logging token and code prefixes so full credentials never reach
// the logs.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server executes grant flows against a host-supplied Data Handler. It keeps
// no per-request state: every exchange is a function of the parsed request,
// the request's single clock sample, and the Data Handler's answers.
type Server struct {
	handler storage.DataHandler
	device  storage.DeviceStore // nil when the handler lacks the capability
	flows   map[string]Flow

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config
}

// New creates a grant flow engine around the Data Handler. The built-in
// grant types are registered immediately; the device pair only when the
// handler implements storage.DeviceStore.
func New(handler storage.DataHandler, config *Config, logger *slog.Logger) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("data handler is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config.applySecureDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.logSecurityWarnings(logger)

	srv := &Server{
		handler: handler,
		flows:   make(map[string]Flow),
		Logger:  logger,
		Config:  config,
	}

	for _, f := range []Flow{
		&clientCredentialsFlow{srv: srv},
		&passwordFlow{srv: srv},
		&authorizationCodeFlow{srv: srv},
		&refreshTokenFlow{srv: srv},
	} {
		srv.flows[f.GrantType()] = f
	}

	if device, ok := handler.(storage.DeviceStore); ok {
		srv.device = device
		srv.flows[GrantTypeDeviceCode] = &deviceCodeFlow{srv: srv}
		srv.flows[GrantTypeDeviceToken] = &deviceTokenFlow{srv: srv}
		if config.VerificationURI == "" {
			logger.Warn("⚠️ device grant enabled without a verification URI",
				"recommendation", "set Config.VerificationURI so devices can tell users where to go")
		}
	}

	return srv, nil
}

// SetAuditor sets the security auditor.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation sets the OpenTelemetry instrumentation.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// RegisterFlow adds a grant type to the registry, replacing any previous
// flow for the same grant type. Hosts use it to add grant types beyond the
// built-in set or to override a built-in flow.
func (s *Server) RegisterFlow(f Flow) error {
	if f == nil {
		return fmt.Errorf("flow is required")
	}
	grantType := f.GrantType()
	if grantType == "" {
		return fmt.Errorf("flow has an empty grant type")
	}
	s.flows[grantType] = f
	return nil
}

// GrantTypes returns the registered grant types, sorted.
func (s *Server) GrantTypes() []string {
	types := make([]string, 0, len(s.flows))
	for gt := range s.flows {
		types = append(types, gt)
	}
	sort.Strings(types)
	return types
}

// Exchange runs the flow registered for the request's grant type. The
// returned error is always a protocol *Error; host failures have already
// been collapsed to server_error. If the transport did not sample a clock,
// one is sampled here — afterwards req.Now is the only clock the flows see.
func (s *Server) Exchange(ctx context.Context, req *TokenRequest) (Response, error) {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	if req.GrantType == "" {
		return nil, ErrInvalidRequest("grant_type is required")
	}

	flow, ok := s.flows[req.GrantType]
	if !ok {
		s.recordExchange(ctx, req.GrantType, ErrorCodeUnsupportedGrantType)
		return nil, ErrUnsupportedGrantType(fmt.Sprintf("unsupported grant type %q", req.GrantType))
	}

	resp, err := flow.Exchange(ctx, req)
	if err != nil {
		oe := AsError(err)
		s.recordExchange(ctx, req.GrantType, oe.Code)
		return nil, oe
	}
	s.recordExchange(ctx, req.GrantType, "ok")
	return resp, nil
}

func (s *Server) recordExchange(ctx context.Context, grantType, outcome string) {
	if s.Instrumentation == nil {
		return
	}
	s.Instrumentation.RecordTokenExchange(ctx, grantType, outcome)
}

// authenticateClient runs the client authentication guard. A missing client
// identifier and a failed authentication both collapse to invalid_client so
// callers cannot probe which clients exist.
func (s *Server) authenticateClient(ctx context.Context, req *TokenRequest) (*storage.Client, error) {
	if req.ClientID == "" {
		return nil, ErrInvalidClient("client authentication required")
	}
	client, err := s.handler.ValidateClient(ctx, req.ClientID, req.ClientSecret, req.GrantType)
	if err != nil {
		if errors.Is(err, storage.ErrDenied) || errors.Is(err, storage.ErrNotFound) {
			s.Auditor.LogAuthFailure(req.ClientID, req.RemoteAddr, "client authentication failed")
			return nil, ErrInvalidClient("client authentication failed")
		}
		return nil, s.storageError(err, "validate_client")
	}
	return client, nil
}

// authorizeGrantType runs the grant-type authorization guard against the
// client's allowlist.
func (s *Server) authorizeGrantType(client *storage.Client, req *TokenRequest) error {
	if client.AllowsGrantType(req.GrantType) {
		return nil
	}
	s.Auditor.LogAuthFailure(client.ClientID, req.RemoteAddr, "grant type not allowed: "+req.GrantType)
	return ErrUnauthorizedClient(fmt.Sprintf("client is not authorized for grant type %q", req.GrantType))
}

// resolveScope runs the scope guard. An empty scope is legal; the Data
// Handler applies its own default when the grant is created.
func (s *Server) resolveScope(ctx context.Context, client *storage.Client, scope string) (string, error) {
	if scope == "" {
		return "", nil
	}
	if err := s.handler.ValidateScope(ctx, client.ClientID, scope); err != nil {
		if errors.Is(err, storage.ErrDenied) {
			return "", ErrInvalidScope("requested scope is not grantable")
		}
		return "", s.storageError(err, "validate_scope")
	}
	return scope, nil
}

// issueToken mints the access token for a validated grant and shapes the
// token response. refreshToken is included verbatim when non-empty; each
// flow decides whether its grant type exposes one.
func (s *Server) issueToken(ctx context.Context, req *TokenRequest, info *storage.AuthInfo, includeRefresh bool) (*TokenResponse, error) {
	token, err := s.handler.CreateOrUpdateAccessToken(ctx, info)
	if err != nil {
		return nil, s.storageError(err, "create_or_update_access_token")
	}

	s.Auditor.LogTokenIssued(info.ClientID, info.UserID, req.RemoteAddr, req.GrantType, info.Scope)
	s.Logger.Debug("access token issued",
		"client_id", info.ClientID,
		"grant_type", req.GrantType,
		"token_prefix", safeTruncate(token.Token, 8))

	resp := &TokenResponse{
		TokenType:   TokenTypeBearer,
		AccessToken: token.Token,
		ExpiresIn:   token.ExpiresIn,
		Scope:       info.Scope,
	}
	if includeRefresh {
		// Read after the store call: hosts that rotate inside
		// CreateOrUpdateAccessToken rewrite info.RefreshToken there.
		resp.RefreshToken = info.RefreshToken
	}
	return resp, nil
}

// storageError logs a Data Handler failure and collapses it to server_error
// so storage internals never reach the client.
func (s *Server) storageError(err error, op string) error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	s.Logger.Error("data handler call failed", "op", op, "error", err)
	return ErrServerError("internal error")
}
