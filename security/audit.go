// Package security provides the cross-cutting security features of the
// library: audit logging, rate limiting, client IP derivation, security
// headers, and clock-skew-tolerant expiry checks.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. Resource
// owner identifiers are hashed before they reach the log stream; client
// identifiers are not PII and are logged as-is.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	RequestID string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"request_id", event.RequestID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs a successful token issuance
func (a *Auditor) LogTokenIssued(clientID, userID, ipAddress, grantType, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogTokenRefreshed logs a refresh exchange and whether the refresh token
// was rotated by the host
func (a *Auditor) LogTokenRefreshed(clientID, userID, ipAddress string, rotated bool) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogAuthFailure logs a client or resource owner authentication failure
func (a *Auditor) LogAuthFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogCodeReuse logs an attempted reuse of a consumed authorization code.
// Reuse is the classic signature of a stolen code.
func (a *Auditor) LogCodeReuse(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventCodeReuseDetected,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogAuthorizationDecision logs the resource owner's consent decision
func (a *Auditor) LogAuthorizationDecision(clientID, userID, responseType string, approved bool) {
	eventType := EventAuthorizationDenied
	if approved {
		eventType = EventAuthorizationGranted
	}
	a.LogEvent(Event{
		Type:     eventType,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"response_type": responseType,
		},
	})
}

// LogDeviceDecision logs the resource owner's decision on a device grant
func (a *Auditor) LogDeviceDecision(clientID, userID string, approved bool) {
	eventType := EventDeviceDenied
	if approved {
		eventType = EventDeviceApproved
	}
	a.LogEvent(Event{
		Type:     eventType,
		UserID:   userID,
		ClientID: clientID,
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
	})
}

// LogScopeEscalation logs a refresh exchange that requested scope outside
// the originating grant
func (a *Auditor) LogScopeEscalation(clientID, ipAddress, requested, granted string) {
	a.LogEvent(Event{
		Type:      EventScopeEscalationAttempt,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"requested_scope": requested,
			"granted_scope":   granted,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
