package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY WARNING: never put actual credential values (access tokens,
// refresh tokens, authorization codes, client secrets, user passwords) in
// traces or metrics. Traces are persisted, replicated, and readable by far
// wider audiences than the token store. These keys carry metadata only.
const (
	AttrClientID     = "oauth.client_id"     // client identifier (non-secret)
	AttrUserID       = "oauth.user_id"       // user identifier (non-secret)
	AttrScope        = "oauth.scope"         // requested scopes
	AttrGrantType    = "oauth.grant_type"    // grant type of the exchange
	AttrResponseType = "oauth.response_type" // response type at the end-user endpoint
	AttrTokenType    = "oauth.token_type"    //nolint:gosec // token type (Bearer), never the token
	AttrExpiresIn    = "oauth.expires_in"    // token expiry duration
	AttrError        = "oauth.error"         // protocol error code
	AttrCodeReuse    = "oauth.code.reuse"    // whether code reuse was detected (boolean)

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrRateLimiterType = "security.rate_limiter.type"
	AttrClientIP        = "security.client_ip"
	AttrAuditEventType  = "security.audit.event_type"

	// HTTP attributes beyond the standard semantic conventions
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with an error status (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds the common grant flow attributes to a span
// (nil-safe). Empty values are skipped.
func AddFlowAttributes(span trace.Span, grantType, clientID, scope string) {
	if grantType != "" {
		SetSpanAttributes(span, attribute.String(AttrGrantType, grantType))
	}
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe).
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe).
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
