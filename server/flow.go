package server

import "context"

// Flow executes one grant type at the token endpoint. Implementations run
// the shared guard sequence — parameter shape, client authentication,
// grant-type authorization, scope, grant material — failing fast at the
// first violation, and return either a Response or a protocol *Error.
//
// Flows must treat req.Now as the request's only clock and must not emit a
// token unless the Data Handler confirmed its creation.
type Flow interface {
	// GrantType returns the grant_type value the flow serves.
	GrantType() string

	// Exchange validates the request and produces the grant's response.
	Exchange(ctx context.Context, req *TokenRequest) (Response, error)
}
