package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/giantswarm/oauth2-kit/storage"
)

// ============================================================
// GrantStore Implementation
// ============================================================

// CreateOrUpdateAuthInfo creates a grant for (clientID, userID) or renews
// the existing one. The whole operation is one upsert: a new owner
// inserts a fresh grant, an existing owner keeps its ID, refresh token,
// and creation time while the code, scope, redirect URI, and exchange
// window are replaced. Two concurrent authorizations for the same owner
// therefore cannot mint two grants.
func (s *Store) CreateOrUpdateAuthInfo(ctx context.Context, clientID, userID, scope, redirectURI string) (*storage.AuthInfo, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	const q = `
INSERT INTO oauth_grants (id, client_id, user_id, scope, redirect_uri, code, refresh_token, used, created_at, expires_at, touched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, false, now(), now() + $8::interval, now())
ON CONFLICT (client_id, user_id) DO UPDATE
SET scope        = EXCLUDED.scope,
    redirect_uri = EXCLUDED.redirect_uri,
    code         = EXCLUDED.code,
    used         = false,
    expires_at   = EXCLUDED.expires_at,
    touched_at   = now()
RETURNING ` + grantColumns

	info, err := scanAuthInfo(s.pool.QueryRow(ctx, q,
		uuid.NewString(), clientID, userID, scope, redirectURI,
		storage.GenerateToken(), storage.GenerateToken(), secondsInterval(s.codeTTL)))
	if err != nil {
		return nil, fmt.Errorf("failed to persist grant: %w", err)
	}
	return info, nil
}

// GetAuthInfoByID retrieves a grant by its identifier.
func (s *Store) GetAuthInfoByID(ctx context.Context, id string) (*storage.AuthInfo, error) {
	info, err := scanAuthInfo(s.pool.QueryRow(ctx,
		"SELECT "+grantColumns+" FROM oauth_grants WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: grant %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return info, nil
}

// GetAuthInfoByCode retrieves a grant by its authorization code.
func (s *Store) GetAuthInfoByCode(ctx context.Context, code string) (*storage.AuthInfo, error) {
	info, err := scanAuthInfo(s.pool.QueryRow(ctx,
		"SELECT "+grantColumns+" FROM oauth_grants WHERE code = $1", code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown authorization code", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve authorization code: %w", err)
	}
	return info, nil
}

// GetAuthInfoByRefreshToken retrieves a grant by its refresh token.
func (s *Store) GetAuthInfoByRefreshToken(ctx context.Context, refreshToken string) (*storage.AuthInfo, error) {
	info, err := scanAuthInfo(s.pool.QueryRow(ctx,
		"SELECT "+grantColumns+" FROM oauth_grants WHERE refresh_token = $1 AND refresh_token <> ''",
		refreshToken))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown refresh token", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve refresh token: %w", err)
	}
	return info, nil
}

// MarkAuthInfoUsed marks the grant's code as consumed. The check-and-mark
// is a single conditional UPDATE, so only ONE concurrent exchange of the
// same code can succeed; the follow-up read merely classifies why no row
// changed.
func (s *Store) MarkAuthInfoUsed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE oauth_grants SET used = true WHERE id = $1 AND used = false`, id)
	if err != nil {
		return fmt.Errorf("failed to mark grant used: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var used bool
	err = s.pool.QueryRow(ctx, `SELECT used FROM oauth_grants WHERE id = $1`, id).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: grant %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to mark grant used: %w", err)
	}
	return storage.ErrGrantUsed
}
