package server

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/oauth2-kit/security"
	"github.com/giantswarm/oauth2-kit/storage"
)

// deviceCodeFlow is phase one of the device grant: the device obtains a
// device_code/user_code pair and tells its user where to enter the user
// code. Approval happens out of band; the device learns the outcome by
// polling with deviceTokenFlow.
type deviceCodeFlow struct {
	srv *Server
}

func (f *deviceCodeFlow) GrantType() string { return GrantTypeDeviceCode }

func (f *deviceCodeFlow) Exchange(ctx context.Context, req *TokenRequest) (Response, error) {
	client, err := f.srv.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := f.srv.authorizeGrantType(client, req); err != nil {
		return nil, err
	}
	scope, err := f.srv.resolveScope(ctx, client, req.Scope)
	if err != nil {
		return nil, err
	}

	if f.srv.Config.VerificationURI == "" {
		f.srv.Logger.Error("device authorization requested but no verification URI is configured")
		return nil, ErrServerError("device authorization is not configured")
	}

	rec, err := f.srv.device.CreateDeviceAuthorization(ctx, client.ClientID, scope)
	if err != nil {
		return nil, f.srv.storageError(err, "create_device_authorization")
	}

	f.srv.Auditor.LogEvent(security.Event{
		Type:      security.EventDeviceFlowStarted,
		ClientID:  client.ClientID,
		IPAddress: req.RemoteAddr,
		Details:   map[string]any{"scope": rec.Scope},
	})

	expiresIn := int64(rec.ExpiresAt.Sub(req.Now) / time.Second)
	if expiresIn < 0 {
		expiresIn = 0
	}

	return &DeviceAuthorizationResponse{
		DeviceCode:      rec.DeviceCode,
		UserCode:        rec.UserCode,
		VerificationURI: f.srv.Config.VerificationURI,
		ExpiresIn:       expiresIn,
		Interval:        rec.Interval,
	}, nil
}

// deviceTokenFlow is phase two of the device grant: the device polls with
// its device_code until the user decides. Pending polls get
// authorization_pending, polls faster than the stated interval get
// slow_down, an expired code gets expired_token, and a decision gets
// access_denied or tokens. The decided record is consumed atomically so a
// device code redeems at most once.
type deviceTokenFlow struct {
	srv *Server
}

func (f *deviceTokenFlow) GrantType() string { return GrantTypeDeviceToken }

func (f *deviceTokenFlow) Exchange(ctx context.Context, req *TokenRequest) (Response, error) {
	if req.DeviceCode == "" {
		return nil, ErrInvalidRequest("device_code is required")
	}

	client, err := f.srv.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := f.srv.authorizeGrantType(client, req); err != nil {
		return nil, err
	}

	// Record the poll and read the state as of the previous one. Every
	// poll restarts the interval window, including ones that are about to
	// be answered with slow_down.
	rec, err := f.srv.device.TouchDevicePoll(ctx, req.DeviceCode, req.Now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant("invalid device code")
		}
		return nil, f.srv.storageError(err, "touch_device_poll")
	}

	if rec.ClientID != client.ClientID {
		f.srv.Auditor.LogAuthFailure(client.ClientID, req.RemoteAddr, "device code issued to another client")
		return nil, ErrInvalidGrant("device code was not issued to this client")
	}

	if rec.Expired(req.Now) {
		f.srv.recordDevicePoll(ctx, "expired")
		return nil, ErrExpiredToken("device code expired")
	}

	// Pacing outranks status: a too-fast poll is told to slow down even
	// when a decision is already waiting, and the decision stays stored
	// for the next well-paced poll.
	if !rec.LastPolledAt.IsZero() && req.Now.Sub(rec.LastPolledAt) < time.Duration(rec.Interval)*time.Second {
		f.srv.recordDevicePoll(ctx, "slow_down")
		return nil, ErrSlowDown("polling too frequently")
	}

	switch rec.Status {
	case storage.DeviceStatusPending:
		f.srv.recordDevicePoll(ctx, "pending")
		return nil, ErrAuthorizationPending("authorization request is pending")

	case storage.DeviceStatusDenied:
		if _, err := f.srv.device.ConsumeDeviceAuthorization(ctx, req.DeviceCode); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, f.srv.storageError(err, "consume_device_authorization")
		}
		f.srv.recordDevicePoll(ctx, "denied")
		return nil, ErrAccessDenied("the user denied the request")

	case storage.DeviceStatusApproved:
		// Claim the decision atomically; a concurrent poll that loses the
		// race sees the code as gone.
		decided, err := f.srv.device.ConsumeDeviceAuthorization(ctx, req.DeviceCode)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ErrInvalidGrant("device code already redeemed")
			}
			return nil, f.srv.storageError(err, "consume_device_authorization")
		}

		info, err := f.srv.handler.CreateOrUpdateAuthInfo(ctx, client.ClientID, decided.UserID, decided.Scope, "")
		if err != nil {
			return nil, f.srv.storageError(err, "create_or_update_auth_info")
		}
		f.srv.recordDevicePoll(ctx, "approved")
		return f.srv.issueToken(ctx, req, info, true)

	default:
		f.srv.Logger.Error("device authorization in unknown state",
			"status", rec.Status,
			"device_code_prefix", safeTruncate(req.DeviceCode, 8))
		return nil, ErrServerError("internal error")
	}
}

func (s *Server) recordDevicePoll(ctx context.Context, outcome string) {
	if s.Instrumentation == nil {
		return
	}
	s.Instrumentation.RecordDevicePoll(ctx, outcome)
}
