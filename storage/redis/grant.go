package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/giantswarm/oauth2-kit/storage"
)

// ============================================================
// GrantStore Implementation
// ============================================================

// CreateOrUpdateAuthInfo creates the grant for (clientID, userID) or
// refreshes the existing one: a fresh single-use code is minted either
// way, the refresh token persists across updates. Every call renews the
// grant's idle TTL.
func (s *Store) CreateOrUpdateAuthInfo(ctx context.Context, clientID, userID, scope, redirectURI string) (*storage.AuthInfo, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if err := validateStringLength(clientID, MaxIDLength, "client ID"); err != nil {
		return nil, err
	}
	if err := validateStringLength(userID, MaxIDLength, "user ID"); err != nil {
		return nil, err
	}

	now := time.Now()

	id, err := s.client.Get(ctx, s.ownerKey(clientID, userID)).Result()
	if err != nil && !isNilError(err) {
		return nil, fmt.Errorf("failed to resolve grant owner: %w", err)
	}

	if err == nil {
		info, getErr := s.GetAuthInfoByID(ctx, id)
		switch {
		case getErr == nil:
			oldCode := info.Code
			info.Code = storage.GenerateToken()
			info.Scope = scope
			info.RedirectURI = redirectURI
			info.Used = false
			info.ExpiresAt = now.Add(s.codeTTL)
			if err := s.writeAuthInfo(ctx, info, oldCode); err != nil {
				return nil, err
			}
			return info, nil
		case errors.Is(getErr, storage.ErrNotFound):
			// The grant lapsed under its owner index; mint a fresh one.
		default:
			return nil, getErr
		}
	}

	info := &storage.AuthInfo{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		UserID:       userID,
		Scope:        scope,
		RedirectURI:  redirectURI,
		Code:         storage.GenerateToken(),
		RefreshToken: storage.GenerateToken(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.codeTTL),
	}
	if err := s.writeAuthInfo(ctx, info, ""); err != nil {
		return nil, err
	}
	return info, nil
}

// writeAuthInfo persists a grant and its lookup indexes in one
// transaction, dropping the superseded code index if any.
func (s *Store) writeAuthInfo(ctx context.Context, info *storage.AuthInfo, oldCode string) error {
	data, err := json.Marshal(toAuthInfoJSON(info))
	if err != nil {
		return fmt.Errorf("failed to marshal grant: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if oldCode != "" && oldCode != info.Code {
			pipe.Del(ctx, s.codeKey(oldCode))
		}
		pipe.Set(ctx, s.grantKey(info.ID), data, s.grantTTL)
		pipe.Set(ctx, s.ownerKey(info.ClientID, info.UserID), info.ID, s.grantTTL)
		pipe.Set(ctx, s.codeKey(info.Code), info.ID, s.grantTTL)
		pipe.Set(ctx, s.refreshKey(info.RefreshToken), info.ID, s.grantTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist grant: %w", err)
	}
	return nil
}

// GetAuthInfoByID retrieves a grant by its identifier.
func (s *Store) GetAuthInfoByID(ctx context.Context, id string) (*storage.AuthInfo, error) {
	if err := validateStringLength(id, MaxIDLength, "grant ID"); err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, err)
	}
	return getAndUnmarshal(ctx, s, s.grantKey(id),
		fmt.Errorf("%w: grant %s", storage.ErrNotFound, id), fromAuthInfoJSON)
}

// GetAuthInfoByCode retrieves a grant by its authorization code.
func (s *Store) GetAuthInfoByCode(ctx context.Context, code string) (*storage.AuthInfo, error) {
	if err := validateStringLength(code, MaxTokenLength, "authorization code"); err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, err)
	}

	id, err := s.client.Get(ctx, s.codeKey(code)).Result()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: unknown authorization code", storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve authorization code: %w", err)
	}
	return s.GetAuthInfoByID(ctx, id)
}

// GetAuthInfoByRefreshToken retrieves a grant by its refresh token.
func (s *Store) GetAuthInfoByRefreshToken(ctx context.Context, refreshToken string) (*storage.AuthInfo, error) {
	if err := validateStringLength(refreshToken, MaxTokenLength, "refresh token"); err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, err)
	}

	id, err := s.client.Get(ctx, s.refreshKey(refreshToken)).Result()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: unknown refresh token", storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve refresh token: %w", err)
	}
	return s.GetAuthInfoByID(ctx, id)
}

// MarkAuthInfoUsed consumes the grant's authorization code. Check-and-mark
// runs as a Lua script, so only one concurrent exchange can succeed; the
// second mark reports ErrGrantUsed.
func (s *Store) MarkAuthInfoUsed(ctx context.Context, id string) error {
	if err := validateStringLength(id, MaxIDLength, "grant ID"); err != nil {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, err)
	}

	result, err := luaMarkGrantUsed.Run(ctx, s.client, []string{s.grantKey(id)}).Text()
	if err != nil {
		return fmt.Errorf("failed to mark grant used: %w", err)
	}

	switch result {
	case luaResultOK:
		return nil
	case luaResultNotFound:
		return fmt.Errorf("%w: grant %s", storage.ErrNotFound, id)
	case luaResultAlreadyUsed:
		return storage.ErrGrantUsed
	default:
		return fmt.Errorf("unexpected script result %q", result)
	}
}
