// Package client is the outbound half of the library: an OAuth client that
// obtains tokens from a token endpoint speaking the draft-era protocol the
// server side of this module implements.
//
// A Client carries the client's identity and the endpoint URLs; each grant
// type is one method:
//   - ClientCredentials: tokens for the client itself
//   - ResourceOwnerPassword: exchange a user's credentials
//   - AuthCodeURL + ExchangeCode: the web-server flow
//   - ImplicitURL: the user-agent flow (token arrives in the fragment)
//   - DeviceAuthorize + WaitForDeviceToken: the device flow
//   - Refresh: trade a refresh token for a new access token
//
// # Error Tiers
//
// Failures come in two distinct tiers. When the authorization server
// answered with a protocol rejection, the returned error is an
// [oauth.Error] whose Code is one of the closed protocol set:
//
//	tok, err := cli.ClientCredentials(ctx, "read")
//	var oe *oauth.Error
//	if errors.As(err, &oe) && oe.Code == oauth.ErrorCodeInvalidClient {
//	    // credentials rejected
//	}
//
// When no verdict was produced at all (the request could not be sent, the
// connection failed, or the response was not a protocol message) the error
// is a [*TransportError]. Retrying a transport error is the caller's call;
// protocol errors are final.
//
// # Diagnostics
//
// LastExchange returns a snapshot of the most recent HTTP exchange with
// secrets redacted, for debugging against misbehaving servers. It is a
// diagnostic aid, not part of the protocol contract.
//
// Example usage:
//
//	cli := &client.Client{
//	    ID:       "my-client",
//	    Secret:   "my-secret",
//	    TokenURL: "https://auth.example.com/token",
//	}
//	tok, err := cli.ClientCredentials(ctx, "read")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(tok.AccessToken)
package client
