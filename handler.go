package oauth

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-kit/instrumentation"
	"github.com/giantswarm/oauth2-kit/security"
	"github.com/giantswarm/oauth2-kit/server"
	"github.com/giantswarm/oauth2-kit/storage"
)

// Handler is a thin HTTP adapter for the OAuth Server. It parses requests,
// resolves response formats, and delegates every protocol decision to the
// Server.
type Handler struct {
	server *server.Server
	config *Config
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for the HTTP layer

	consentTmpl *template.Template
	deviceTmpl  *template.Template
	errorTmpl   *template.Template

	// RateLimiter, when set, throttles token endpoint requests per client
	// IP. Over-limit requests receive 429 before any parsing happens.
	RateLimiter *security.RateLimiter
}

// NewHandler creates a new HTTP handler around the Server. A nil config
// selects the defaults; a nil logger selects slog.Default().
func NewHandler(srv *server.Server, config *Config, logger *slog.Logger) *Handler {
	if config == nil {
		config = &Config{}
	}
	config.applySecureDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		config: config,
		logger: logger,
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	config.logSecurityWarnings(logger)
	h.parsePageTemplates()

	return h
}

// RegisterRoutes claims the token, authorization, and device verification
// paths on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(h.config.TokenPath, h.ServeToken)
	mux.HandleFunc(h.config.AuthorizePath, h.ServeAuthorization)
	mux.HandleFunc(h.config.DevicePath, h.ServeDeviceVerification)
}

// ServeToken handles the token endpoint. Only POST is accepted; both device
// flow phases arrive here as grant types alongside the four standard grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
	format := h.config.DefaultFormat

	if h.RateLimiter != nil && !h.RateLimiter.Allow(clientIP) {
		h.server.Auditor.LogRateLimitExceeded(clientIP)
		h.server.Instrumentation.RecordRateLimitExceeded(ctx, "ip")
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrRateLimiterType, "ip"))
		w.Header().Set("Retry-After", "1")
		oerr := ErrInvalidRequest("too many requests").WithStatus(http.StatusTooManyRequests)
		status := h.writeTokenError(w, format, oerr, CarrierNone)
		h.recordHTTPMetrics("token", r.Method, status, startTime)
		return
	}

	req, formatParam, oerr := extractTokenRequest(r)
	if oerr != nil {
		// The request did not parse, so its format parameter cannot be
		// trusted; the error renders in the endpoint default.
		instrumentation.RecordError(span, oerr)
		status := h.writeTokenError(w, format, oerr, CarrierNone)
		h.recordHTTPMetrics("token", r.Method, status, startTime)
		return
	}

	if formatParam != "" {
		parsed, ferr := ParseFormat(formatParam)
		if ferr != nil {
			instrumentation.RecordError(span, ferr)
			status := h.writeTokenError(w, format, ferr, req.Carrier)
			h.recordHTTPMetrics("token", r.Method, status, startTime)
			return
		}
		format = parsed
	}

	req.RemoteAddr = clientIP
	req.Now = startTime

	instrumentation.AddFlowAttributes(span, req.GrantType, req.ClientID, req.Scope)

	resp, err := h.server.Exchange(ctx, req)
	if err != nil {
		oerr := AsError(err)
		instrumentation.RecordError(span, oerr)
		status := h.writeTokenError(w, format, oerr, req.Carrier)
		h.recordHTTPMetrics("token", r.Method, status, startTime)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, format, resp)
	h.recordHTTPMetrics("token", r.Method, http.StatusOK, startTime)
}

// ServeAuthorization handles the end-user authorization endpoint. GET (or a
// POST without a decision) renders the consent page; a POST carrying a
// decision records it and redirects the user agent back to the client.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorize")
		defer span.End()
	}

	if err := r.ParseForm(); err != nil {
		oerr := ErrInvalidRequest("malformed request")
		instrumentation.RecordError(span, oerr)
		h.renderErrorPage(w, oerr)
		h.recordHTTPMetrics("authorize", r.Method, oerr.Status, startTime)
		return
	}

	ar := &server.AuthorizationRequest{
		ResponseType: r.FormValue("response_type"),
		ClientID:     r.FormValue("client_id"),
		RedirectURI:  r.FormValue("redirect_uri"),
		Scope:        r.FormValue("scope"),
		State:        r.FormValue("state"),
		Now:          startTime,
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, ar.ClientID),
		attribute.String(instrumentation.AttrResponseType, ar.ResponseType),
	)

	target, err := h.server.ValidateAuthorizationRequest(ctx, ar)
	if err != nil {
		oerr := AsError(err)
		instrumentation.RecordError(span, oerr)
		if target == nil {
			// The redirect URI never checked out; the error must be shown
			// to the user, not forwarded to an unvetted destination.
			h.renderErrorPage(w, oerr)
			h.recordHTTPMetrics("authorize", r.Method, oerr.Status, startTime)
			return
		}
		http.Redirect(w, r, h.server.ErrorRedirectURL(target, ar, oerr), http.StatusFound)
		h.recordHTTPMetrics("authorize", r.Method, http.StatusFound, startTime)
		return
	}

	userID, authErr := h.authenticateEndUser(r)
	if authErr != nil || userID == "" {
		if authErr != nil {
			h.logger.Warn("end-user authentication failed", "error", authErr)
		}
		oerr := ErrAccessDenied("resource owner authentication required").WithStatus(http.StatusUnauthorized)
		instrumentation.RecordError(span, oerr)
		h.renderErrorPage(w, oerr)
		h.recordHTTPMetrics("authorize", r.Method, http.StatusUnauthorized, startTime)
		return
	}

	decision := r.PostFormValue("decision")
	if r.Method == http.MethodGet || decision == "" {
		h.renderConsentPage(w, h.buildConsentData(ar, target))
		instrumentation.SetSpanSuccess(span)
		h.recordHTTPMetrics("authorize", r.Method, http.StatusOK, startTime)
		return
	}

	var redirectURL string
	if decision == "approve" {
		redirectURL, err = h.server.ApproveAuthorization(ctx, ar, userID)
	} else {
		redirectURL, err = h.server.DenyAuthorization(ctx, ar)
	}
	if err != nil {
		oerr := AsError(err)
		instrumentation.RecordError(span, oerr)
		// The target validated above, so protocol errors travel back to the
		// client by redirect.
		http.Redirect(w, r, h.server.ErrorRedirectURL(target, ar, oerr), http.StatusFound)
		h.recordHTTPMetrics("authorize", r.Method, http.StatusFound, startTime)
		return
	}

	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, redirectURL, http.StatusFound)
	h.recordHTTPMetrics("authorize", r.Method, http.StatusFound, startTime)
}

// ServeDeviceVerification handles the device verification page: code entry,
// confirmation, and the resource owner's decision.
func (h *Handler) ServeDeviceVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.device_verification")
		defer span.End()
	}

	if err := r.ParseForm(); err != nil {
		oerr := ErrInvalidRequest("malformed request")
		instrumentation.RecordError(span, oerr)
		h.renderErrorPage(w, oerr)
		h.recordHTTPMetrics("device_verification", r.Method, oerr.Status, startTime)
		return
	}

	userCode := normalizeUserCode(r.FormValue("user_code"))

	if r.Method == http.MethodGet {
		h.renderDevicePage(w, &DeviceVerificationData{
			Stage:      "enter",
			UserCode:   userCode,
			ActionPath: h.config.DevicePath,
		})
		instrumentation.SetSpanSuccess(span)
		h.recordHTTPMetrics("device_verification", r.Method, http.StatusOK, startTime)
		return
	}

	userID, authErr := h.authenticateEndUser(r)
	if authErr != nil || userID == "" {
		if authErr != nil {
			h.logger.Warn("end-user authentication failed", "error", authErr)
		}
		oerr := ErrAccessDenied("resource owner authentication required").WithStatus(http.StatusUnauthorized)
		instrumentation.RecordError(span, oerr)
		h.renderErrorPage(w, oerr)
		h.recordHTTPMetrics("device_verification", r.Method, http.StatusUnauthorized, startTime)
		return
	}

	decision := r.PostFormValue("decision")
	if decision == "" {
		rec, err := h.server.DeviceAuthorizationByUserCode(ctx, userCode, startTime)
		if err != nil {
			oerr := AsError(err)
			instrumentation.RecordError(span, oerr)
			h.renderDevicePage(w, &DeviceVerificationData{
				Stage:      "enter",
				ActionPath: h.config.DevicePath,
				Error:      oerr.Description,
			})
			h.recordHTTPMetrics("device_verification", r.Method, http.StatusOK, startTime)
			return
		}
		h.renderDevicePage(w, &DeviceVerificationData{
			Stage:      "confirm",
			UserCode:   rec.UserCode,
			ClientName: rec.ClientID,
			Scopes:     storage.SplitScope(rec.Scope),
			ActionPath: h.config.DevicePath,
		})
		instrumentation.SetSpanSuccess(span)
		h.recordHTTPMetrics("device_verification", r.Method, http.StatusOK, startTime)
		return
	}

	var err error
	stage := "denied"
	if decision == "approve" {
		err = h.server.ApproveDeviceAuthorization(ctx, userCode, userID, startTime)
		stage = "approved"
	} else {
		err = h.server.DenyDeviceAuthorization(ctx, userCode, startTime)
	}
	if err != nil {
		oerr := AsError(err)
		instrumentation.RecordError(span, oerr)
		h.renderDevicePage(w, &DeviceVerificationData{
			Stage:      "enter",
			ActionPath: h.config.DevicePath,
			Error:      oerr.Description,
		})
		h.recordHTTPMetrics("device_verification", r.Method, http.StatusOK, startTime)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.renderDevicePage(w, &DeviceVerificationData{Stage: stage, UserCode: userCode})
	h.recordHTTPMetrics("device_verification", r.Method, http.StatusOK, startTime)
}

// authenticateEndUser resolves the resource owner for the end-user pages:
// the configured Authenticator when set, otherwise the request context.
func (h *Handler) authenticateEndUser(r *http.Request) (string, error) {
	if h.config.Authenticator != nil {
		return h.config.Authenticator(r)
	}
	userID, _ := UserIDFromContext(r.Context())
	return userID, nil
}

func (h *Handler) buildConsentData(ar *server.AuthorizationRequest, target *server.AuthorizationTarget) *ConsentData {
	clientName := target.Client.ClientName
	if clientName == "" {
		clientName = target.Client.ClientID
	}
	return &ConsentData{
		ClientID:     ar.ClientID,
		ClientName:   clientName,
		Scopes:       storage.SplitScope(ar.Scope),
		ResponseType: ar.ResponseType,
		RedirectURI:  ar.RedirectURI,
		Scope:        ar.Scope,
		State:        ar.State,
		ActionPath:   h.config.AuthorizePath,
	}
}

// normalizeUserCode canonicalizes a typed user code: codes are issued
// uppercase without separators, but users copy them with whatever spacing
// the device displayed.
func normalizeUserCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	return code
}

// writeTokenResponse renders a successful exchange in the resolved format.
func (h *Handler) writeTokenResponse(w http.ResponseWriter, format Format, resp server.Response) {
	security.SetTokenEndpointHeaders(w)

	body, err := MarshalResponse(format, resp)
	if err != nil {
		h.logger.Error("token response marshal failed", "format", format, "error", err)
		w.Header().Set("Content-Type", FormatJSON.ContentType())
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"server_error"}`))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeTokenError renders a protocol error in the resolved format and
// returns the status written. invalid_client answers 401 with a Basic
// challenge only when the failed credentials arrived via the Authorization
// header; other carriers get a plain 400.
func (h *Handler) writeTokenError(w http.ResponseWriter, format Format, oerr *Error, carrier Carrier) int {
	security.SetTokenEndpointHeaders(w)

	status := oerr.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	if oerr.Code == ErrorCodeInvalidClient && carrier == CarrierHeader {
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", h.config.Realm))
	}

	body, err := MarshalResponse(format, &ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
		ErrorURI:         oerr.URI,
	})
	if err != nil {
		h.logger.Error("error response marshal failed", "format", format, "error", err)
		w.Header().Set("Content-Type", FormatJSON.ContentType())
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"server_error"}`))
		return http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(status)
	_, _ = w.Write(body)
	return status
}

// recordHTTPMetrics records request count and duration for an endpoint.
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	duration := time.Since(startTime).Seconds() * 1000
	h.server.Instrumentation.RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}
