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
// Provisioning
// ============================================================

// CreateClient registers a client, replacing any prior registration under
// the same ID. The secret is bcrypt-hashed before it is stored; an empty
// secret registers a public client.
func (s *Store) CreateClient(ctx context.Context, client *storage.Client, secret string) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}

	hash := ""
	if secret != "" {
		h, err := storage.HashClientSecret(secret)
		if err != nil {
			return err
		}
		hash = h
	}
	createdAt := client.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const q = `
INSERT INTO oauth_clients (client_id, client_secret_hash, client_name, redirect_uris, grant_types, scopes, created_at)
VALUES ($1, $2, $3, COALESCE($4, '{}'), COALESCE($5, '{}'), COALESCE($6, '{}'), $7)
ON CONFLICT (client_id) DO UPDATE
SET client_secret_hash = EXCLUDED.client_secret_hash,
    client_name        = EXCLUDED.client_name,
    redirect_uris      = EXCLUDED.redirect_uris,
    grant_types        = EXCLUDED.grant_types,
    scopes             = EXCLUDED.scopes`
	if _, err := s.pool.Exec(ctx, q, client.ClientID, hash, client.ClientName,
		client.RedirectURIs, client.GrantTypes, client.Scopes, createdAt); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("client registered", "client_id", client.ClientID, "public", secret == "")
	return nil
}

// CreateUser registers resource owner credentials for the password grant.
func (s *Store) CreateUser(ctx context.Context, username, password, userID string) error {
	if username == "" || userID == "" {
		return fmt.Errorf("username and user ID are required")
	}

	hash, err := storage.HashClientSecret(password)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO oauth_users (username, user_id, password_hash)
VALUES ($1, $2, $3)
ON CONFLICT (username) DO UPDATE
SET user_id = EXCLUDED.user_id, password_hash = EXCLUDED.password_hash`
	if _, err := s.pool.Exec(ctx, q, username, userID, hash); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// ============================================================
// ClientStore Implementation
// ============================================================

// ValidateClient authenticates a client. Unknown clients and wrong secrets
// both report ErrDenied after a constant-cost comparison, so timing does
// not reveal which one happened.
func (s *Store) ValidateClient(ctx context.Context, clientID, clientSecret, grantType string) (*storage.Client, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		storage.VerifyAgainstMissing(clientSecret)
		return nil, fmt.Errorf("%w: client authentication failed", storage.ErrDenied)
	}

	if !storage.VerifyClientSecret(client.ClientSecretHash, clientSecret) {
		return nil, fmt.Errorf("%w: client authentication failed", storage.ErrDenied)
	}

	s.logger.Debug("client authenticated", "client_id", clientID, "grant_type", grantType)
	return client, nil
}

// GetClient retrieves a client without authenticating it.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	const q = `
SELECT client_id, client_secret_hash, client_name, redirect_uris, grant_types, scopes, created_at
FROM oauth_clients
WHERE client_id = $1`
	var client storage.Client
	err := s.pool.QueryRow(ctx, q, clientID).Scan(&client.ClientID, &client.ClientSecretHash,
		&client.ClientName, &client.RedirectURIs, &client.GrantTypes, &client.Scopes, &client.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &client, nil
}

// ValidateScope reports whether the scope may be granted to the client.
func (s *Store) ValidateScope(ctx context.Context, clientID, scope string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil || !client.AllowsScope(scope) {
		return fmt.Errorf("%w: scope not grantable", storage.ErrDenied)
	}
	return nil
}

// ValidateRedirectURI reports whether the redirect URI is registered for
// the client. Matching is exact.
func (s *Store) ValidateRedirectURI(ctx context.Context, clientID, redirectURI string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil || !client.AllowsRedirectURI(redirectURI) {
		return fmt.Errorf("%w: redirect URI not registered", storage.ErrDenied)
	}
	return nil
}

// ============================================================
// UserStore Implementation
// ============================================================

// AuthenticateUser verifies resource owner credentials. Unknown users and
// wrong passwords are indistinguishable to the caller.
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) (string, error) {
	const q = `SELECT user_id, password_hash FROM oauth_users WHERE username = $1`
	var userID, hash string
	err := s.pool.QueryRow(ctx, q, username).Scan(&userID, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		storage.VerifyAgainstMissing(password)
		return "", fmt.Errorf("%w: resource owner authentication failed", storage.ErrDenied)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}

	if !storage.VerifyClientSecret(hash, password) {
		return "", fmt.Errorf("%w: resource owner authentication failed", storage.ErrDenied)
	}
	return userID, nil
}
