// Package server implements the grant flow engine: a registry of grant
// types, the guard sequence every flow runs, and the operations behind the
// end-user authorization endpoint.
//
// The engine is transport-free. The root package parses HTTP requests into
// TokenRequest and AuthorizationRequest values, hands them to Server, and
// renders the Response or *Error it gets back. Hosts embedding a different
// transport can drive Server directly.
//
// All persistence goes through storage.DataHandler. The engine never mints
// token or code values itself: grants and tokens are created by the Data
// Handler, which keeps value format and lifetime policy with the host.
package server
