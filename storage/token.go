package storage

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

// Reference store policy defaults. Hosts with different lifetimes configure
// their own stores; the core never reads these.
const (
	// DefaultAccessTokenTTL is the reference stores' access token lifetime.
	DefaultAccessTokenTTL = 1 * time.Hour

	// DefaultAuthorizationCodeTTL bounds the code exchange window.
	DefaultAuthorizationCodeTTL = 10 * time.Minute

	// DefaultRefreshTokenTTL is how long an untouched grant stays
	// refreshable in stores that expire grants (Redis key TTLs, the
	// Postgres sweeper). The memory store keeps grants until restart.
	DefaultRefreshTokenTTL = 90 * 24 * time.Hour

	// DefaultDeviceCodeTTL bounds the device pairing window.
	DefaultDeviceCodeTTL = 30 * time.Minute

	// DefaultCleanupInterval is how often stores sweep expired records.
	DefaultCleanupInterval = 1 * time.Minute

	// DefaultDevicePollInterval is the minimum spacing between device
	// token polls.
	DefaultDevicePollInterval = 5 * time.Second
)

// userCodeAlphabet drops characters people misread across screens (0/O,
// 1/I/L). User codes are read off one device and typed into another.
const userCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// DefaultUserCodeLength is the user code length minted by the reference
// stores.
const DefaultUserCodeLength = 8

// GenerateToken returns a cryptographically secure, URL-safe credential
// string. Access tokens, refresh tokens, authorization codes, device codes,
// and grant IDs are all drawn from the same generator.
func GenerateToken() string {
	return oauth2.GenerateVerifier()
}

// GenerateUserCode returns a short uppercase code for the device flow's
// verification step. A non-positive length selects the default.
func GenerateUserCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultUserCodeLength
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate user code: %w", err)
	}
	var b strings.Builder
	b.Grow(length)
	for _, c := range raw {
		b.WriteByte(userCodeAlphabet[int(c)%len(userCodeAlphabet)])
	}
	return b.String(), nil
}

// HashClientSecret hashes a client secret for storage. The reference stores
// never persist the secret itself.
func HashClientSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash client secret: %w", err)
	}
	return string(hash), nil
}

// dummySecretHash is compared against when the target does not exist, so
// lookups that miss cost the same as lookups that hit (bcrypt hash of
// "test").
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// VerifyClientSecret compares a presented secret against a stored bcrypt
// hash. An empty hash marks a public client, which authenticates by
// identifier alone and so matches only an empty secret.
func VerifyClientSecret(hash, secret string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummySecretHash), []byte(secret))
		return secret == ""
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// VerifyAgainstMissing burns a bcrypt comparison for a credential whose
// target record does not exist, keeping the miss path as slow as the hit
// path.
func VerifyAgainstMissing(secret string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummySecretHash), []byte(secret))
}
