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
// TokenStore Implementation
// ============================================================

// CreateOrUpdateAccessToken mints an access token for the grant,
// replacing the grant's current one. The grant row is locked for the
// duration, so concurrent issuance for the same grant serializes.
// Issuance renews the grant's idle window, and with rotation enabled
// rewrites its refresh token.
func (s *Store) CreateOrUpdateAccessToken(ctx context.Context, authInfo *storage.AuthInfo) (*storage.AccessToken, error) {
	if authInfo == nil || authInfo.ID == "" {
		return nil, fmt.Errorf("auth info is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var refreshToken string
	err = tx.QueryRow(ctx,
		`SELECT refresh_token FROM oauth_grants WHERE id = $1 FOR UPDATE`, authInfo.ID).Scan(&refreshToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: grant %s", storage.ErrNotFound, authInfo.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve grant: %w", err)
	}

	if s.rotateRefreshTokens && refreshToken != "" {
		refreshToken = storage.GenerateToken()
	}

	tok := &storage.AccessToken{
		Token:     storage.GenerateToken(),
		AuthID:    authInfo.ID,
		ExpiresIn: int64(s.accessTokenTTL / time.Second),
	}

	const insertToken = `
INSERT INTO oauth_access_tokens (token, auth_id, issued_at, expires_in)
VALUES ($1, $2, now(), $3)
ON CONFLICT (auth_id) DO UPDATE
SET token = EXCLUDED.token, issued_at = EXCLUDED.issued_at, expires_in = EXCLUDED.expires_in
RETURNING issued_at`
	if err := tx.QueryRow(ctx, insertToken, tok.Token, tok.AuthID, tok.ExpiresIn).Scan(&tok.IssuedAt); err != nil {
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE oauth_grants SET refresh_token = $2, touched_at = now() WHERE id = $1`,
		authInfo.ID, refreshToken); err != nil {
		return nil, fmt.Errorf("failed to persist grant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}

	// The caller's record reflects the stored refresh token either way.
	authInfo.RefreshToken = refreshToken

	return tok, nil
}

// GetAccessToken resolves a bearer string. The sweeper keeps expired
// tokens resolvable for one grace window; expiry is judged by the caller
// against the record's timestamps.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	const q = `SELECT token, auth_id, issued_at, expires_in FROM oauth_access_tokens WHERE token = $1`
	var tok storage.AccessToken
	err := s.pool.QueryRow(ctx, q, token).Scan(&tok.Token, &tok.AuthID, &tok.IssuedAt, &tok.ExpiresIn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown access token", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &tok, nil
}
