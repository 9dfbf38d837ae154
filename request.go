package oauth

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/giantswarm/oauth2-kit/server"
)

// authScheme classifies a parsed Authorization header.
type authScheme int

const (
	authSchemeNone authScheme = iota
	authSchemeBasic
	authSchemeBearer
)

// parsedAuthorization is the decoded Authorization header. Scheme matching
// is case-insensitive; OAuth and Bearer are the same scheme under the
// draft-era and modern names.
type parsedAuthorization struct {
	scheme       authScheme
	clientID     string
	clientSecret string
	bearerToken  string
}

// parseAuthorizationHeader decodes an Authorization header value. An
// unrecognized scheme is a malformed request, not a missing credential.
func parseAuthorizationHeader(value string) (*parsedAuthorization, *Error) {
	if value == "" {
		return &parsedAuthorization{}, nil
	}

	scheme, rest, found := strings.Cut(value, " ")
	if !found {
		return nil, ErrInvalidRequest("malformed Authorization header")
	}
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(scheme) {
	case "basic":
		raw, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return nil, ErrInvalidRequest("malformed Basic credentials")
		}
		// Split at the first colon only: the secret may itself contain
		// colons.
		id, secret, ok := strings.Cut(string(raw), ":")
		if !ok {
			return nil, ErrInvalidRequest("malformed Basic credentials")
		}
		return &parsedAuthorization{scheme: authSchemeBasic, clientID: id, clientSecret: secret}, nil

	case "bearer", "oauth":
		return &parsedAuthorization{scheme: authSchemeBearer, bearerToken: rest}, nil

	default:
		return nil, ErrInvalidRequest(fmt.Sprintf("unsupported Authorization scheme %q", scheme))
	}
}

// singleValue resolves a parameter within one carrier. Repeats with the same
// value collapse; repeats with different values are a conflict.
func singleValue(values url.Values, name string) (string, *Error) {
	vs := values[name]
	if len(vs) == 0 {
		return "", nil
	}
	for _, v := range vs[1:] {
		if v != vs[0] {
			return "", ErrInvalidRequest(fmt.Sprintf("conflicting values for parameter %q", name))
		}
	}
	return vs[0], nil
}

// resolveParam resolves a parameter that may arrive in the body or the
// query. Body is preferred; presence in both with different values is a
// conflict.
func resolveParam(body, query url.Values, name string) (string, *Error) {
	bodyVal, oerr := singleValue(body, name)
	if oerr != nil {
		return "", oerr
	}
	queryVal, oerr := singleValue(query, name)
	if oerr != nil {
		return "", oerr
	}
	if len(body[name]) > 0 && len(query[name]) > 0 && bodyVal != queryVal {
		return "", ErrInvalidRequest(fmt.Sprintf("conflicting values for parameter %q", name))
	}
	if len(body[name]) > 0 {
		return bodyVal, nil
	}
	return queryVal, nil
}

// extractTokenRequest parses a token endpoint request: recognized parameters
// from body and query under the conflict rules, client credentials from
// exactly one of Authorization header, body, or query. Unrecognized
// parameters are ignored. The returned format string is the raw format
// parameter, empty when absent.
func extractTokenRequest(r *http.Request) (*server.TokenRequest, string, *Error) {
	if err := r.ParseForm(); err != nil {
		return nil, "", ErrInvalidRequest("malformed request body")
	}
	body := r.PostForm
	query := r.URL.Query()

	auth, oerr := parseAuthorizationHeader(r.Header.Get("Authorization"))
	if oerr != nil {
		return nil, "", oerr
	}

	// Credentials may travel in at most one carrier. A bearer-scheme
	// Authorization header carries no client credentials, so it does not
	// count.
	headerHas := auth.scheme == authSchemeBasic
	bodyHas := len(body["client_id"]) > 0 || len(body["client_secret"]) > 0
	queryHas := len(query["client_id"]) > 0 || len(query["client_secret"]) > 0

	carriers := 0
	for _, has := range []bool{headerHas, bodyHas, queryHas} {
		if has {
			carriers++
		}
	}
	if carriers > 1 {
		return nil, "", ErrInvalidRequest("client credentials must appear in at most one of header, body, or query")
	}

	req := &server.TokenRequest{Carrier: server.CarrierNone}
	switch {
	case headerHas:
		req.Carrier = server.CarrierHeader
		req.ClientID = auth.clientID
		req.ClientSecret = auth.clientSecret
	case bodyHas:
		req.Carrier = server.CarrierBody
		if req.ClientID, oerr = singleValue(body, "client_id"); oerr != nil {
			return nil, "", oerr
		}
		if req.ClientSecret, oerr = singleValue(body, "client_secret"); oerr != nil {
			return nil, "", oerr
		}
	case queryHas:
		req.Carrier = server.CarrierQuery
		if req.ClientID, oerr = singleValue(query, "client_id"); oerr != nil {
			return nil, "", oerr
		}
		if req.ClientSecret, oerr = singleValue(query, "client_secret"); oerr != nil {
			return nil, "", oerr
		}
	}

	// grant_type must appear exactly once across body and query.
	grantOccurrences := len(body["grant_type"]) + len(query["grant_type"])
	if grantOccurrences > 1 {
		return nil, "", ErrInvalidRequest("grant_type must appear exactly once")
	}
	if len(body["grant_type"]) == 1 {
		req.GrantType = body["grant_type"][0]
	} else if len(query["grant_type"]) == 1 {
		req.GrantType = query["grant_type"][0]
	}

	for name, dst := range map[string]*string{
		"scope":         &req.Scope,
		"username":      &req.Username,
		"password":      &req.Password,
		"code":          &req.Code,
		"redirect_uri":  &req.RedirectURI,
		"refresh_token": &req.RefreshToken,
		"device_code":   &req.DeviceCode,
	} {
		val, oerr := resolveParam(body, query, name)
		if oerr != nil {
			return nil, "", oerr
		}
		*dst = val
	}

	format, oerr := resolveParam(body, query, "format")
	if oerr != nil {
		return nil, "", oerr
	}

	return req, format, nil
}
