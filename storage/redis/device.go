package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oauth2-kit/storage"
)

// ============================================================
// DeviceStore Implementation
// ============================================================

// CreateDeviceAuthorization mints a pending device authorization carrying
// a fresh device code and user code pair. The user code index is claimed
// with SETNX, so a colliding code is never handed out twice.
func (s *Store) CreateDeviceAuthorization(ctx context.Context, clientID, scope string) (*storage.DeviceAuthorization, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if err := validateStringLength(clientID, MaxIDLength, "client ID"); err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &storage.DeviceAuthorization{
		DeviceCode: storage.GenerateToken(),
		ClientID:   clientID,
		Scope:      scope,
		Status:     storage.DeviceStatusPending,
		Interval:   int64(s.devicePollInterval / time.Second),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.deviceCodeTTL),
	}
	recordTTL := s.deviceCodeTTL + expiredRecordGrace

	for attempt := 0; attempt < maxUserCodeAttempts; attempt++ {
		code, err := storage.GenerateUserCode(storage.DefaultUserCodeLength)
		if err != nil {
			return nil, err
		}
		claimed, err := s.client.SetNX(ctx, s.userCodeKey(code), rec.DeviceCode, recordTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to claim user code: %w", err)
		}
		if claimed {
			rec.UserCode = code
			break
		}
	}
	if rec.UserCode == "" {
		return nil, fmt.Errorf("could not mint a unique user code")
	}

	data, err := json.Marshal(toDeviceAuthorizationJSON(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device authorization: %w", err)
	}
	if err := s.client.Set(ctx, s.deviceKey(rec.DeviceCode), data, recordTTL).Err(); err != nil {
		return nil, fmt.Errorf("failed to save device authorization: %w", err)
	}

	return rec, nil
}

// GetDeviceAuthorizationByUserCode retrieves a device authorization by its
// user code.
func (s *Store) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*storage.DeviceAuthorization, error) {
	deviceCode, err := s.resolveUserCode(ctx, userCode)
	if err != nil {
		return nil, err
	}
	return getAndUnmarshal(ctx, s, s.deviceKey(deviceCode),
		fmt.Errorf("%w: unknown user code", storage.ErrNotFound), fromDeviceAuthorizationJSON)
}

// ApproveDeviceAuthorization binds the pending authorization to the
// resource owner. Expired codes report ErrNotFound.
func (s *Store) ApproveDeviceAuthorization(ctx context.Context, userCode, userID string) error {
	return s.decideDeviceAuthorization(ctx, userCode, storage.DeviceStatusApproved, userID)
}

// DenyDeviceAuthorization records the resource owner's refusal.
func (s *Store) DenyDeviceAuthorization(ctx context.Context, userCode string) error {
	return s.decideDeviceAuthorization(ctx, userCode, storage.DeviceStatusDenied, "")
}

func (s *Store) decideDeviceAuthorization(ctx context.Context, userCode, status, userID string) error {
	deviceCode, err := s.resolveUserCode(ctx, userCode)
	if err != nil {
		return err
	}

	result, err := luaDecideDevice.Run(ctx, s.client,
		[]string{s.deviceKey(deviceCode)},
		time.Now().Unix(), status, userID,
	).Text()
	if err != nil {
		return fmt.Errorf("failed to record device decision: %w", err)
	}

	switch result {
	case luaResultOK:
		return nil
	case luaResultNotFound:
		return fmt.Errorf("%w: unknown user code", storage.ErrNotFound)
	case luaResultExpired:
		return fmt.Errorf("%w: user code expired", storage.ErrNotFound)
	default:
		return fmt.Errorf("unexpected script result %q", result)
	}
}

// TouchDevicePoll records a poll at now and returns the record as of the
// previous poll. Read-and-touch runs as a Lua script, so concurrent polls
// cannot both observe an open interval window.
func (s *Store) TouchDevicePoll(ctx context.Context, deviceCode string, now time.Time) (*storage.DeviceAuthorization, error) {
	if err := validateStringLength(deviceCode, MaxTokenLength, "device code"); err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, err)
	}

	result, err := luaTouchDevicePoll.Run(ctx, s.client,
		[]string{s.deviceKey(deviceCode)},
		now.Unix(),
	).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to record device poll: %w", err)
	}
	if result == luaResultNotFound {
		return nil, fmt.Errorf("%w: unknown device code", storage.ErrNotFound)
	}

	var j deviceAuthorizationJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device authorization: %w", err)
	}
	return fromDeviceAuthorizationJSON(&j), nil
}

// ConsumeDeviceAuthorization removes the authorization and returns it.
// Get-and-delete runs as a Lua script, so a second concurrent consume of
// the same device code reports ErrNotFound and token issuance stays
// at-most-once.
func (s *Store) ConsumeDeviceAuthorization(ctx context.Context, deviceCode string) (*storage.DeviceAuthorization, error) {
	if err := validateStringLength(deviceCode, MaxTokenLength, "device code"); err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, err)
	}

	result, err := luaConsumeDevice.Run(ctx, s.client, []string{s.deviceKey(deviceCode)}).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to consume device authorization: %w", err)
	}
	if result == luaResultNotFound {
		return nil, fmt.Errorf("%w: unknown device code", storage.ErrNotFound)
	}

	var j deviceAuthorizationJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device authorization: %w", err)
	}
	rec := fromDeviceAuthorizationJSON(&j)

	// Best effort: the record is gone, so a stale index only produces misses.
	if err := s.client.Del(ctx, s.userCodeKey(rec.UserCode)).Err(); err != nil {
		s.logger.Warn("failed to drop user code index", "error", err)
	}

	return rec, nil
}

// resolveUserCode maps a user code to its device code via the index.
func (s *Store) resolveUserCode(ctx context.Context, userCode string) (string, error) {
	if err := validateStringLength(userCode, MaxIDLength, "user code"); err != nil {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, err)
	}

	deviceCode, err := s.client.Get(ctx, s.userCodeKey(userCode)).Result()
	if err != nil {
		if isNilError(err) {
			return "", fmt.Errorf("%w: unknown user code", storage.ErrNotFound)
		}
		return "", fmt.Errorf("failed to resolve user code: %w", err)
	}
	return deviceCode, nil
}
