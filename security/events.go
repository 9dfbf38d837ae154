package security

// Event type constants for security audit logging. Using constants keeps
// event names consistent across the codebase and greppable in log streams.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when an access token is issued through any flow
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is refreshed
	EventTokenRefreshed = "token_refreshed"

	// Authorization endpoint events

	// EventAuthorizationGranted is logged when a resource owner approves a client
	EventAuthorizationGranted = "authorization_granted"

	// EventAuthorizationDenied is logged when a resource owner refuses a client
	EventAuthorizationDenied = "authorization_denied"

	// EventCodeReuseDetected is logged when a consumed authorization code is
	// presented again (stolen-code signature)
	EventCodeReuseDetected = "authorization_code_reuse_detected"

	// Device flow events

	// EventDeviceFlowStarted is logged when a device obtains a code pair
	EventDeviceFlowStarted = "device_flow_started"

	// EventDeviceApproved is logged when a resource owner approves a device grant
	EventDeviceApproved = "device_authorization_approved"

	// EventDeviceDenied is logged when a resource owner refuses a device grant
	EventDeviceDenied = "device_authorization_denied"

	// Security violation events

	// EventAuthFailure is logged when client or resource owner authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventScopeEscalationAttempt is logged when a refresh exchange requests
	// scope outside the originating grant
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// EventCarrierConflict is logged when credentials or bearer tokens arrive
	// through more than one carrier in a single request
	EventCarrierConflict = "credential_carrier_conflict"

	// EventInvalidRedirect is logged when a client presents an unregistered
	// redirect URI at the end-user endpoint
	EventInvalidRedirect = "invalid_redirect"
)
