package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-kit/security"
	"github.com/giantswarm/oauth2-kit/storage"
)

// GuardOptions tunes the protected resource guard.
type GuardOptions struct {
	// Optional admits requests that carry no bearer material at all.
	// Requests that do present a token still have it validated.
	Optional bool

	// RequiredScopes lists scopes the grant behind the token must cover.
	// Uncovered tokens are rejected with insufficient_scope.
	RequiredScopes []string

	// Realm overrides the handler's realm in challenges.
	Realm string

	// RateLimiter, when set, throttles guarded requests per client IP
	// independently of the token endpoint's limiter.
	RateLimiter *security.RateLimiter
}

// ValidateToken wraps next with bearer token validation under default
// options: a token is required and no particular scope is.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return h.ValidateTokenWith(GuardOptions{}, next)
}

// ValidateTokenWith wraps next with bearer token validation. The token may
// arrive in the Authorization header (Bearer or OAuth scheme), a form body
// (oauth_token or access_token), or the query string; more than one carrier
// is a conflict and is rejected without consulting storage. Validated
// requests continue with the token and its grant attached to the context.
func (h *Handler) ValidateTokenWith(opts GuardOptions, next http.Handler) http.Handler {
	realm := opts.Realm
	if realm == "" {
		realm = h.config.Realm
	}
	scope := strings.Join(opts.RequiredScopes, " ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ctx := r.Context()

		clientIP := security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)

		if opts.RateLimiter != nil && !opts.RateLimiter.Allow(clientIP) {
			h.server.Auditor.LogRateLimitExceeded(clientIP)
			h.server.Instrumentation.RecordRateLimitExceeded(ctx, "resource_ip")
			w.Header().Set("Retry-After", "1")
			oerr := ErrInvalidRequest("too many requests").WithStatus(http.StatusTooManyRequests)
			h.writeChallenge(w, realm, oerr, "")
			h.recordGuardVerdict(ctx, "rate_limited")
			return
		}

		token, carriers, oerr := extractGuardToken(r)
		if oerr != nil {
			h.writeChallenge(w, realm, oerr, "")
			h.recordGuardVerdict(ctx, "invalid_request")
			return
		}
		if carriers > 1 {
			h.server.Auditor.LogEvent(security.Event{
				Type:      security.EventCarrierConflict,
				IPAddress: clientIP,
				Details:   map[string]any{"endpoint": r.URL.Path},
			})
			oerr := ErrInvalidRequest("bearer token present in more than one carrier")
			h.writeChallenge(w, realm, oerr, "")
			h.recordGuardVerdict(ctx, "carrier_conflict")
			return
		}

		if token == "" {
			if opts.Optional {
				h.recordGuardVerdict(ctx, "admitted_anonymous")
				next.ServeHTTP(w, r)
				return
			}
			oerr := ErrInvalidRequest("no bearer token presented").WithStatus(http.StatusUnauthorized)
			h.writeChallenge(w, realm, oerr, "")
			h.recordGuardVerdict(ctx, "invalid_request")
			return
		}

		accessToken, info, err := h.server.VerifyAccessToken(ctx, token, startTime)
		if err != nil {
			oerr := AsError(err)
			h.logger.Warn("bearer token rejected", "ip", clientIP, "error", oerr)
			h.writeChallenge(w, realm, oerr, "")
			h.recordGuardVerdict(ctx, "invalid_token")
			return
		}

		if scope != "" && !storage.ScopeSubset(scope, info.Scope) {
			oerr := ErrInsufficientScope("token scope does not cover this resource")
			h.writeChallenge(w, realm, oerr, scope)
			h.recordGuardVerdict(ctx, "insufficient_scope")
			return
		}

		h.recordGuardVerdict(ctx, "admitted")
		next.ServeHTTP(w, r.WithContext(contextWithToken(r.Context(), accessToken, info)))
	})
}

// extractGuardToken finds the bearer token across the guard's three
// carriers and reports how many carriers presented one. A Basic
// Authorization header is client authentication, not bearer material, and
// does not count as a carrier.
func extractGuardToken(r *http.Request) (string, int, *Error) {
	var (
		token    string
		carriers int
	)

	auth, oerr := parseAuthorizationHeader(r.Header.Get("Authorization"))
	if oerr != nil {
		return "", 0, oerr
	}
	if auth.scheme == authSchemeBearer && auth.bearerToken != "" {
		token = auth.bearerToken
		carriers++
	}

	if hasFormBody(r) {
		if err := r.ParseForm(); err != nil {
			return "", 0, ErrInvalidRequest("malformed request body")
		}
		bodyToken, oerr := bearerParam(r.PostForm)
		if oerr != nil {
			return "", 0, oerr
		}
		if bodyToken != "" {
			token = bodyToken
			carriers++
		}
	}

	queryToken, oerr := bearerParam(r.URL.Query())
	if oerr != nil {
		return "", 0, oerr
	}
	if queryToken != "" {
		token = queryToken
		carriers++
	}

	return token, carriers, nil
}

// bearerParam resolves the oauth_token/access_token pair within a single
// carrier. Both names carrying different values is ambiguous.
func bearerParam(values url.Values) (string, *Error) {
	var token string
	for _, name := range []string{BearerParamOAuthToken, BearerParamAccessToken} {
		v, oerr := singleValue(values, name)
		if oerr != nil {
			return "", oerr
		}
		if v == "" {
			continue
		}
		if token != "" && token != v {
			return "", ErrInvalidRequest("conflicting bearer tokens in one carrier")
		}
		token = v
	}
	return token, nil
}

// hasFormBody reports whether the request can carry the form body carrier:
// a method that takes a body with the form content type.
func hasFormBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return false
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}

// writeChallenge writes a guard rejection: the WWW-Authenticate challenge
// names the realm and error code, plus the required scope when the token
// fell short of one.
func (h *Handler) writeChallenge(w http.ResponseWriter, realm string, oerr *Error, scope string) {
	parts := []string{
		fmt.Sprintf("Bearer realm=%q", realm),
		fmt.Sprintf("error=%q", oerr.Code),
	}
	if oerr.Description != "" {
		parts = append(parts, fmt.Sprintf("error_description=%q", oerr.Description))
	}
	if scope != "" {
		parts = append(parts, fmt.Sprintf("scope=%q", scope))
	}
	w.Header().Set("WWW-Authenticate", strings.Join(parts, ", "))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oerr.Status)
	_ = json.NewEncoder(w).Encode(&ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
	})
}

func (h *Handler) recordGuardVerdict(ctx context.Context, outcome string) {
	h.server.Instrumentation.RecordGuardVerdict(ctx, outcome)
}
