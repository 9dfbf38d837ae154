package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oauth2-kit/storage"
)

// ============================================================
// Provisioning
// ============================================================

// CreateClient registers a client. The secret is bcrypt-hashed before it
// is stored; an empty secret registers a public client.
func (s *Store) CreateClient(ctx context.Context, client *storage.Client, secret string) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if err := validateStringLength(client.ClientID, MaxIDLength, "client ID"); err != nil {
		return err
	}

	stored := *client
	stored.ClientSecretHash = ""
	if secret != "" {
		hash, err := storage.HashClientSecret(secret)
		if err != nil {
			return err
		}
		stored.ClientSecretHash = hash
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	data, err := json.Marshal(toClientJSON(&stored))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := s.client.Set(ctx, s.clientKey(stored.ClientID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("client registered", "client_id", stored.ClientID, "public", secret == "")
	return nil
}

// CreateUser registers resource owner credentials for the password grant.
func (s *Store) CreateUser(ctx context.Context, username, password, userID string) error {
	if username == "" || userID == "" {
		return fmt.Errorf("username and user ID are required")
	}
	if err := validateStringLength(username, MaxIDLength, "username"); err != nil {
		return err
	}

	hash, err := storage.HashClientSecret(password)
	if err != nil {
		return err
	}

	data, err := json.Marshal(&userJSON{UserID: userID, PasswordHash: hash})
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := s.client.Set(ctx, s.userKey(username), data, 0).Err(); err != nil {
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
	if err := validateStringLength(clientID, MaxIDLength, "client ID"); err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, err)
	}
	return getAndUnmarshal(ctx, s, s.clientKey(clientID),
		fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID), fromClientJSON)
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
	if err := validateStringLength(username, MaxIDLength, "username"); err != nil {
		storage.VerifyAgainstMissing(password)
		return "", fmt.Errorf("%w: resource owner authentication failed", storage.ErrDenied)
	}

	data, err := s.client.Get(ctx, s.userKey(username)).Bytes()
	if err != nil {
		if isNilError(err) {
			storage.VerifyAgainstMissing(password)
			return "", fmt.Errorf("%w: resource owner authentication failed", storage.ErrDenied)
		}
		return "", fmt.Errorf("failed to get user: %w", err)
	}

	var u userJSON
	if err := json.Unmarshal(data, &u); err != nil {
		return "", fmt.Errorf("failed to unmarshal user: %w", err)
	}

	if !storage.VerifyClientSecret(u.PasswordHash, password) {
		return "", fmt.Errorf("%w: resource owner authentication failed", storage.ErrDenied)
	}
	return u.UserID, nil
}
