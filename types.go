package oauth

import (
	"github.com/giantswarm/oauth2-kit/server"
	"github.com/giantswarm/oauth2-kit/storage"
)

// Engine types, re-exported so hosts wiring the HTTP layer only import the
// root package.

// TokenRequest is the parsed, transport-independent token endpoint request.
type TokenRequest = server.TokenRequest

// AuthorizationRequest is the parsed end-user authorization request.
type AuthorizationRequest = server.AuthorizationRequest

// Response is the closed set of success payloads a flow can produce.
type Response = server.Response

// TokenResponse is the successful token grant payload.
type TokenResponse = server.TokenResponse

// DeviceAuthorizationResponse is the device flow's phase-one payload.
type DeviceAuthorizationResponse = server.DeviceAuthorizationResponse

// ErrorResponse is the wire shape of a protocol error.
type ErrorResponse = server.ErrorResponse

// Flow executes one grant type; hosts implement it to register custom grant
// types via Server.RegisterFlow.
type Flow = server.Flow

// Carrier identifies where a request carried client credentials.
type Carrier = server.Carrier

// Credential carrier locations.
const (
	CarrierNone   = server.CarrierNone
	CarrierHeader = server.CarrierHeader
	CarrierBody   = server.CarrierBody
	CarrierQuery  = server.CarrierQuery
)

// Server is the grant flow engine.
type Server = server.Server

// NewServer creates a grant flow engine around the Data Handler.
var NewServer = server.New

// ServerConfig carries engine-level settings.
type ServerConfig = server.Config

// Storage contract types, re-exported for the same reason.

// DataHandler is the persistence contract hosts implement.
type DataHandler = storage.DataHandler

// DeviceStore is the optional device grant capability.
type DeviceStore = storage.DeviceStore

// Client is a registered OAuth client.
type Client = storage.Client

// AuthInfo is an authorization grant.
type AuthInfo = storage.AuthInfo

// AccessToken is an issued bearer credential.
type AccessToken = storage.AccessToken

// DeviceAuthorization is the pre-approval state of a device grant.
type DeviceAuthorization = storage.DeviceAuthorization
