package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/giantswarm/oauth2-kit/storage"
)

// ============================================================
// DeviceStore Implementation
// ============================================================

// CreateDeviceAuthorization mints a pending device authorization. User
// codes are short, so minting retries when one collides with a live
// authorization's code.
func (s *Store) CreateDeviceAuthorization(ctx context.Context, clientID, scope string) (*storage.DeviceAuthorization, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	const q = `
INSERT INTO oauth_device_authorizations
(device_code, user_code, client_id, scope, status, user_id, poll_interval, last_polled_at, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, '', $6, NULL, now(), now() + $7::interval)
RETURNING created_at, expires_at`

	for attempt := 0; attempt < maxUserCodeAttempts; attempt++ {
		userCode, err := storage.GenerateUserCode(storage.DefaultUserCodeLength)
		if err != nil {
			return nil, err
		}

		rec := &storage.DeviceAuthorization{
			DeviceCode: storage.GenerateToken(),
			UserCode:   userCode,
			ClientID:   clientID,
			Scope:      scope,
			Status:     storage.DeviceStatusPending,
			Interval:   int64(s.devicePollInterval / time.Second),
		}

		err = s.pool.QueryRow(ctx, q, rec.DeviceCode, rec.UserCode, clientID, scope,
			rec.Status, rec.Interval, secondsInterval(s.deviceCodeTTL)).
			Scan(&rec.CreatedAt, &rec.ExpiresAt)
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save device authorization: %w", err)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("could not mint a unique user code")
}

// GetDeviceAuthorizationByUserCode retrieves a device authorization by
// its user code.
func (s *Store) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*storage.DeviceAuthorization, error) {
	rec, err := scanDevice(s.pool.QueryRow(ctx,
		"SELECT "+deviceColumns+" FROM oauth_device_authorizations WHERE user_code = $1", userCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown user code", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user code: %w", err)
	}
	return rec, nil
}

// ApproveDeviceAuthorization binds the pending authorization to the
// resource owner.
func (s *Store) ApproveDeviceAuthorization(ctx context.Context, userCode, userID string) error {
	return s.decideDeviceAuthorization(ctx, userCode, storage.DeviceStatusApproved, userID)
}

// DenyDeviceAuthorization records the resource owner's refusal.
func (s *Store) DenyDeviceAuthorization(ctx context.Context, userCode string) error {
	return s.decideDeviceAuthorization(ctx, userCode, storage.DeviceStatusDenied, "")
}

// decideDeviceAuthorization records the resource owner's decision. The
// conditional UPDATE re-checks expiry, so a decision cannot land on a
// code that lapsed between lookup and write.
func (s *Store) decideDeviceAuthorization(ctx context.Context, userCode, status, userID string) error {
	const q = `
UPDATE oauth_device_authorizations
SET status = $2, user_id = CASE WHEN $3 = '' THEN user_id ELSE $3 END
WHERE user_code = $1 AND expires_at > now()`
	tag, err := s.pool.Exec(ctx, q, userCode, status, userID)
	if err != nil {
		return fmt.Errorf("failed to record device decision: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var expiresAt time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT expires_at FROM oauth_device_authorizations WHERE user_code = $1`, userCode).Scan(&expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: unknown user code", storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve user code: %w", err)
	}
	return fmt.Errorf("%w: user code expired", storage.ErrNotFound)
}

// TouchDevicePoll records a poll at now and returns the authorization as
// it stood before the poll. The row lock serializes concurrent polls, so
// two polls cannot both observe an open interval window.
func (s *Store) TouchDevicePoll(ctx context.Context, deviceCode string, now time.Time) (*storage.DeviceAuthorization, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prior, err := scanDevice(tx.QueryRow(ctx,
		"SELECT "+deviceColumns+" FROM oauth_device_authorizations WHERE device_code = $1 FOR UPDATE",
		deviceCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown device code", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device code: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE oauth_device_authorizations SET last_polled_at = $2 WHERE device_code = $1`,
		deviceCode, now); err != nil {
		return nil, fmt.Errorf("failed to record device poll: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to record device poll: %w", err)
	}
	return prior, nil
}

// ConsumeDeviceAuthorization removes the authorization and returns it.
// DELETE ... RETURNING is atomic, so of two concurrent consumes exactly
// one gets the record and the other observes an unknown device code,
// keeping token issuance for a decided authorization at-most-once.
func (s *Store) ConsumeDeviceAuthorization(ctx context.Context, deviceCode string) (*storage.DeviceAuthorization, error) {
	rec, err := scanDevice(s.pool.QueryRow(ctx,
		"DELETE FROM oauth_device_authorizations WHERE device_code = $1 RETURNING "+deviceColumns,
		deviceCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown device code", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume device authorization: %w", err)
	}
	return rec, nil
}
