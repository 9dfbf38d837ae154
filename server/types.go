package server

import "time"

// Grant types understood by the built-in flows. Hosts may register additional
// grant types via RegisterFlow.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePassword          = "password"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"

	// Device flow grant types, phase a and phase b.
	GrantTypeDeviceCode  = "device_code"
	GrantTypeDeviceToken = "device_token"
)

// Response types accepted at the end-user authorization endpoint.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// TokenTypeBearer is the only token type this package issues.
const TokenTypeBearer = "Bearer"

// Carrier identifies where the request carried client credentials. The
// transport layer records it so error handling can pick the right HTTP
// status: Basic-header authentication failures get a 401 challenge, body and
// query failures stay 400.
type Carrier int

const (
	CarrierNone Carrier = iota
	CarrierHeader
	CarrierBody
	CarrierQuery
)

func (c Carrier) String() string {
	switch c {
	case CarrierHeader:
		return "header"
	case CarrierBody:
		return "body"
	case CarrierQuery:
		return "query"
	default:
		return "none"
	}
}

// TokenRequest is the parsed, transport-independent token endpoint request.
// The extractor fills it; flows consume it. Now is sampled once when the
// request is admitted and is the only clock flows may consult.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Carrier      Carrier

	Scope        string
	Username     string
	Password     string
	Code         string
	RedirectURI  string
	RefreshToken string
	DeviceCode   string

	RemoteAddr string
	Now        time.Time
}

// Response is the closed set of success payloads a flow can produce. Token
// flows return *TokenResponse; the device authorization phase returns
// *DeviceAuthorizationResponse.
type Response interface {
	response()
}

// TokenResponse is the successful token grant payload. Field order matters to
// hosts that diff serialized output, so TokenType stays first.
type TokenResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func (*TokenResponse) response() {}

// DeviceAuthorizationResponse is the payload of the device flow's first
// phase: the pairing codes a device shows to its user.
type DeviceAuthorizationResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int64  `json:"expires_in"`
	Interval        int64  `json:"interval,omitempty"`
}

func (*DeviceAuthorizationResponse) response() {}

// ErrorResponse is the wire shape of a protocol error.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}
