package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/giantswarm/oauth2-kit/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// CreateOrUpdateAccessToken mints an access token for the grant, replacing
// the grant's previous token. With rotation enabled it also mints a fresh
// refresh token and rewrites it onto the caller's record. Issuance renews
// the grant's idle TTL.
func (s *Store) CreateOrUpdateAccessToken(ctx context.Context, authInfo *storage.AuthInfo) (*storage.AccessToken, error) {
	if authInfo == nil || authInfo.ID == "" {
		return nil, fmt.Errorf("auth info is required")
	}

	rec, err := s.GetAuthInfoByID(ctx, authInfo.ID)
	if err != nil {
		return nil, err
	}

	oldToken, err := s.client.Get(ctx, s.grantTokenKey(rec.ID)).Result()
	if err != nil && !isNilError(err) {
		return nil, fmt.Errorf("failed to resolve current token: %w", err)
	}

	token := &storage.AccessToken{
		Token:     storage.GenerateToken(),
		AuthID:    rec.ID,
		IssuedAt:  time.Now(),
		ExpiresIn: int64(s.accessTokenTTL / time.Second),
	}

	rotate := s.rotateRefreshTokens && rec.RefreshToken != ""
	var oldRefresh string
	if rotate {
		oldRefresh = rec.RefreshToken
		rec.RefreshToken = storage.GenerateToken()
	}

	tokenData, err := json.Marshal(toAccessTokenJSON(token))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token: %w", err)
	}
	grantData, err := json.Marshal(toAuthInfoJSON(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal grant: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if oldToken != "" {
			pipe.Del(ctx, s.tokenKey(oldToken))
		}
		pipe.Set(ctx, s.tokenKey(token.Token), tokenData, s.accessTokenTTL+expiredRecordGrace)
		pipe.Set(ctx, s.grantTokenKey(rec.ID), token.Token, s.grantTTL)
		pipe.Set(ctx, s.grantKey(rec.ID), grantData, s.grantTTL)
		pipe.Set(ctx, s.ownerKey(rec.ClientID, rec.UserID), rec.ID, s.grantTTL)
		if rotate {
			pipe.Del(ctx, s.refreshKey(oldRefresh))
		}
		if rec.RefreshToken != "" {
			pipe.Set(ctx, s.refreshKey(rec.RefreshToken), rec.ID, s.grantTTL)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}

	// The caller's record reflects the stored refresh token either way.
	authInfo.RefreshToken = rec.RefreshToken

	return token, nil
}

// GetAccessToken resolves a bearer string. Expiry is the caller's call;
// the key outlives the token's nominal expiry by a short grace window so
// that judgment can apply clock-skew tolerance.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	if err := validateStringLength(token, MaxTokenLength, "access token"); err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, err)
	}
	return getAndUnmarshal(ctx, s, s.tokenKey(token),
		fmt.Errorf("%w: unknown access token", storage.ErrNotFound), fromAccessTokenJSON)
}
