package server

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/oauth2-kit/security"
	"github.com/giantswarm/oauth2-kit/storage"
)

// VerifyAccessToken resolves a bearer token and the grant behind it. Expiry
// is judged against the caller's now with the configured clock skew grace.
// All failures surface as invalid_token; the caller cannot distinguish an
// unknown token from an expired or revoked one.
func (s *Server) VerifyAccessToken(ctx context.Context, token string, now time.Time) (*storage.AccessToken, *storage.AuthInfo, error) {
	if token == "" {
		return nil, nil, ErrInvalidToken("access token required")
	}
	if now.IsZero() {
		now = time.Now()
	}

	accessToken, err := s.handler.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrInvalidToken("invalid access token")
		}
		return nil, nil, s.storageError(err, "get_access_token")
	}

	grace := time.Duration(s.Config.ClockSkewGracePeriod) * time.Second
	if security.IsExpiredWithGracePeriod(now, accessToken.ExpiresAt(), grace) {
		s.Logger.Debug("expired access token presented",
			"token_prefix", safeTruncate(token, 8))
		return nil, nil, ErrInvalidToken("access token expired")
	}

	info, err := s.handler.GetAuthInfoByID(ctx, accessToken.AuthID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The grant is gone, so the token has no authority left.
			return nil, nil, ErrInvalidToken("access token revoked")
		}
		return nil, nil, s.storageError(err, "get_auth_info_by_id")
	}

	return accessToken, info, nil
}
