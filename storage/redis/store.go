package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/giantswarm/oauth2-kit/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Redis keys.
	DefaultKeyPrefix = "oauth2:"

	// connectionVerifyTimeout is the timeout for initial connection verification.
	connectionVerifyTimeout = 5 * time.Second

	// expiredRecordGrace keeps expiring records resolvable briefly past their
	// expiry. Expiry is judged by the caller against the record's own
	// timestamps (with clock-skew grace where configured), not by the key TTL;
	// the grace window keeps a just-expired lookup from collapsing into an
	// unknown-record miss.
	expiredRecordGrace = 10 * time.Minute

	// maxUserCodeAttempts bounds collision retries when minting user codes.
	maxUserCodeAttempts = 5

	// MaxTokenLength is the maximum allowed length for token strings.
	// This prevents DoS attacks via excessively large tokens.
	MaxTokenLength = 512

	// MaxIDLength is the maximum allowed length for identifiers.
	MaxIDLength = 256
)

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is the Redis server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Redis authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth2:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// GrantTTL bounds how long a grant (and with it the refresh token) can
	// stay idle before it lapses. Every code or token issuance renews it.
	// Default: storage.DefaultRefreshTokenTTL.
	GrantTTL time.Duration

	// AccessTokenTTL is the access token lifetime.
	// Default: storage.DefaultAccessTokenTTL.
	AccessTokenTTL time.Duration

	// AuthorizationCodeTTL is the code exchange window.
	// Default: storage.DefaultAuthorizationCodeTTL.
	AuthorizationCodeTTL time.Duration

	// DeviceCodeTTL is the device authorization lifetime.
	// Default: storage.DefaultDeviceCodeTTL.
	DeviceCodeTTL time.Duration

	// DevicePollInterval is the minimum device polling interval.
	// Default: storage.DefaultDevicePollInterval.
	DevicePollInterval time.Duration

	// RotateRefreshTokens mints a fresh refresh token on every access
	// token issuance, invalidating the one presented.
	RotateRefreshTokens bool
}

// Store is a Redis-backed implementation of the Data Handler contract,
// including the device grant capability. Records carry TTLs so the
// keyspace cannot grow without bound, and the operations the contract
// requires to be atomic run as Lua scripts.
type Store struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger

	grantTTL            time.Duration
	accessTokenTTL      time.Duration
	codeTTL             time.Duration
	deviceCodeTTL       time.Duration
	devicePollInterval  time.Duration
	rotateRefreshTokens bool
}

// Compile-time interface checks.
var (
	_ storage.DataHandler = (*Store)(nil)
	_ storage.DeviceStore = (*Store)(nil)
)

// New creates a Redis-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.GrantTTL == 0 {
		cfg.GrantTTL = storage.DefaultRefreshTokenTTL
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = storage.DefaultAccessTokenTTL
	}
	if cfg.AuthorizationCodeTTL == 0 {
		cfg.AuthorizationCodeTTL = storage.DefaultAuthorizationCodeTTL
	}
	if cfg.DeviceCodeTTL == 0 {
		cfg.DeviceCodeTTL = storage.DefaultDeviceCodeTTL
	}
	if cfg.DevicePollInterval == 0 {
		cfg.DevicePollInterval = storage.DefaultDevicePollInterval
	}

	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Address,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.TLS,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,

		grantTTL:            cfg.GrantTTL,
		accessTokenTTL:      cfg.AccessTokenTTL,
		codeTTL:             cfg.AuthorizationCodeTTL,
		deviceCodeTTL:       cfg.DeviceCodeTTL,
		devicePollInterval:  cfg.DevicePollInterval,
		rotateRefreshTokens: cfg.RotateRefreshTokens,
	}, nil
}

// Close closes the Redis client connection.
func (s *Store) Close() {
	_ = s.client.Close()
	s.logger.Info("Redis storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// isNilError reports whether the error is a Redis cache miss.
func isNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

// validateStringLength checks if a string exceeds the maximum allowed length.
func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", fieldName, maxLen)
	}
	return nil
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// userKey returns the key for resource owner credentials: {prefix}user:{username}
func (s *Store) userKey(username string) string {
	return fmt.Sprintf("%suser:%s", s.prefix, username)
}

// grantKey returns the key for a grant record: {prefix}grant:{id}
func (s *Store) grantKey(id string) string {
	return fmt.Sprintf("%sgrant:%s", s.prefix, id)
}

// ownerKey returns the key for the per-owner grant index:
// {prefix}grant:owner:{clientID}:{userID}
func (s *Store) ownerKey(clientID, userID string) string {
	return fmt.Sprintf("%sgrant:owner:%s:%s", s.prefix, clientID, userID)
}

// codeKey returns the key for the authorization code index: {prefix}grant:code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%sgrant:code:%s", s.prefix, code)
}

// refreshKey returns the key for the refresh token index: {prefix}grant:refresh:{token}
func (s *Store) refreshKey(token string) string {
	return fmt.Sprintf("%sgrant:refresh:%s", s.prefix, token)
}

// tokenKey returns the key for an access token: {prefix}token:{token}
func (s *Store) tokenKey(token string) string {
	return fmt.Sprintf("%stoken:%s", s.prefix, token)
}

// grantTokenKey returns the key tracking a grant's current access token:
// {prefix}token:grant:{grantID}
func (s *Store) grantTokenKey(grantID string) string {
	return fmt.Sprintf("%stoken:grant:%s", s.prefix, grantID)
}

// deviceKey returns the key for a device authorization: {prefix}device:{deviceCode}
func (s *Store) deviceKey(deviceCode string) string {
	return fmt.Sprintf("%sdevice:%s", s.prefix, deviceCode)
}

// userCodeKey returns the key for the user code index: {prefix}device:user:{userCode}
func (s *Store) userCodeKey(userCode string) string {
	return fmt.Sprintf("%sdevice:user:%s", s.prefix, userCode)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// These Lua scripts cover the operations the Data Handler contract
// requires to be atomic. A script runs as a single unit on the server,
// so no concurrent command can interleave with its reads and writes.

// luaMarkGrantUsed atomically checks that a grant's authorization code is
// unused and marks it used. Only ONE concurrent exchange of the same code
// can succeed; the rest observe ALREADY_USED, which the caller reports as
// code replay.
//
// KEYS[1] = grant key (e.g., "oauth2:grant:abc123")
//
// Returns:
//   - "OK" if the grant was unused and is now marked used
//   - "NOT_FOUND" if the grant key doesn't exist
//   - "ALREADY_USED" if the grant's code was already consumed
var luaMarkGrantUsed = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local grant = cjson.decode(data)
if grant.used then
    return 'ALREADY_USED'
end

grant.used = true
redis.call('SET', KEYS[1], cjson.encode(grant), 'KEEPTTL')

return 'OK'
`)

// luaTouchDevicePoll atomically records a device poll and returns the
// record as it stood before the poll. Pacing decisions are made against
// the returned snapshot, so two concurrent polls cannot both observe an
// open interval window.
//
// KEYS[1] = device key (e.g., "oauth2:device:xyz789")
// ARGV[1] = poll time as a Unix timestamp in seconds
//
// Returns:
//   - The pre-poll JSON record on success
//   - "NOT_FOUND" if the device key doesn't exist
var luaTouchDevicePoll = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local device = cjson.decode(data)
device.last_polled_at = tonumber(ARGV[1])
redis.call('SET', KEYS[1], cjson.encode(device), 'KEEPTTL')

return data
`)

// luaDecideDevice atomically records the resource owner's decision on a
// pending device authorization, re-checking expiry under the script so a
// decision cannot land on a code that lapsed between lookup and write.
//
// KEYS[1] = device key (e.g., "oauth2:device:xyz789")
// ARGV[1] = current Unix timestamp in seconds (for expiry check)
// ARGV[2] = new status ("approved" or "denied")
// ARGV[3] = approving user ID (empty for denials)
//
// Returns:
//   - "OK" on success
//   - "NOT_FOUND" if the device key doesn't exist
//   - "EXPIRED" if the authorization expired (ARGV[1] > expires_at)
var luaDecideDevice = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local device = cjson.decode(data)
local now = tonumber(ARGV[1])
if device.expires_at and now > device.expires_at then
    return 'EXPIRED'
end

device.status = ARGV[2]
if ARGV[3] ~= '' then
    device.user_id = ARGV[3]
end
redis.call('SET', KEYS[1], cjson.encode(device), 'KEEPTTL')

return 'OK'
`)

// luaConsumeDevice atomically retrieves and deletes a device
// authorization. Only ONE concurrent consume of the same device code can
// succeed, which keeps token issuance for a decided authorization
// at-most-once.
//
// KEYS[1] = device key (e.g., "oauth2:device:xyz789")
//
// Returns:
//   - The JSON record on success (the key is deleted)
//   - "NOT_FOUND" if the device key doesn't exist
var luaConsumeDevice = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

redis.call('DEL', KEYS[1])

return data
`)

// Lua script result sentinels.
const (
	luaResultOK          = "OK"
	luaResultNotFound    = "NOT_FOUND"
	luaResultAlreadyUsed = "ALREADY_USED"
	luaResultExpired     = "EXPIRED"
)

// ============================================================
// JSON Serialization Helpers
// ============================================================

// clientJSON is the JSON representation of a registered client.
type clientJSON struct {
	ClientID         string   `json:"client_id"`
	ClientSecretHash string   `json:"client_secret_hash,omitempty"`
	ClientName       string   `json:"client_name,omitempty"`
	RedirectURIs     []string `json:"redirect_uris,omitempty"`
	GrantTypes       []string `json:"grant_types,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`
	CreatedAt        int64    `json:"created_at"`
}

func toClientJSON(client *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:         client.ClientID,
		ClientSecretHash: client.ClientSecretHash,
		ClientName:       client.ClientName,
		RedirectURIs:     client.RedirectURIs,
		GrantTypes:       client.GrantTypes,
		Scopes:           client.Scopes,
		CreatedAt:        client.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ClientID:         j.ClientID,
		ClientSecretHash: j.ClientSecretHash,
		ClientName:       j.ClientName,
		RedirectURIs:     j.RedirectURIs,
		GrantTypes:       j.GrantTypes,
		Scopes:           j.Scopes,
		CreatedAt:        time.Unix(j.CreatedAt, 0),
	}
}

// userJSON is the JSON representation of resource owner credentials.
type userJSON struct {
	UserID       string `json:"user_id"`
	PasswordHash string `json:"password_hash"`
}

// authInfoJSON is the JSON representation of a grant.
type authInfoJSON struct {
	ID           string `json:"id"`
	ClientID     string `json:"client_id"`
	UserID       string `json:"user_id,omitempty"`
	Scope        string `json:"scope,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	Code         string `json:"code"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Used         bool   `json:"used"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresAt    int64  `json:"expires_at"`
}

func toAuthInfoJSON(info *storage.AuthInfo) *authInfoJSON {
	return &authInfoJSON{
		ID:           info.ID,
		ClientID:     info.ClientID,
		UserID:       info.UserID,
		Scope:        info.Scope,
		RedirectURI:  info.RedirectURI,
		Code:         info.Code,
		RefreshToken: info.RefreshToken,
		Used:         info.Used,
		CreatedAt:    info.CreatedAt.Unix(),
		ExpiresAt:    info.ExpiresAt.Unix(),
	}
}

func fromAuthInfoJSON(j *authInfoJSON) *storage.AuthInfo {
	if j == nil {
		return nil
	}
	return &storage.AuthInfo{
		ID:           j.ID,
		ClientID:     j.ClientID,
		UserID:       j.UserID,
		Scope:        j.Scope,
		RedirectURI:  j.RedirectURI,
		Code:         j.Code,
		RefreshToken: j.RefreshToken,
		Used:         j.Used,
		CreatedAt:    time.Unix(j.CreatedAt, 0),
		ExpiresAt:    time.Unix(j.ExpiresAt, 0),
	}
}

// accessTokenJSON is the JSON representation of an access token.
type accessTokenJSON struct {
	Token     string `json:"token"`
	AuthID    string `json:"auth_id"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresIn int64  `json:"expires_in"`
}

func toAccessTokenJSON(token *storage.AccessToken) *accessTokenJSON {
	return &accessTokenJSON{
		Token:     token.Token,
		AuthID:    token.AuthID,
		IssuedAt:  token.IssuedAt.Unix(),
		ExpiresIn: token.ExpiresIn,
	}
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	if j == nil {
		return nil
	}
	return &storage.AccessToken{
		Token:     j.Token,
		AuthID:    j.AuthID,
		IssuedAt:  time.Unix(j.IssuedAt, 0),
		ExpiresIn: j.ExpiresIn,
	}
}

// deviceAuthorizationJSON is the JSON representation of a device
// authorization.
type deviceAuthorizationJSON struct {
	DeviceCode   string `json:"device_code"`
	UserCode     string `json:"user_code"`
	ClientID     string `json:"client_id"`
	Scope        string `json:"scope,omitempty"`
	Status       string `json:"status"`
	UserID       string `json:"user_id,omitempty"`
	Interval     int64  `json:"interval"`
	LastPolledAt int64  `json:"last_polled_at"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresAt    int64  `json:"expires_at"`
}

func toDeviceAuthorizationJSON(rec *storage.DeviceAuthorization) *deviceAuthorizationJSON {
	j := &deviceAuthorizationJSON{
		DeviceCode: rec.DeviceCode,
		UserCode:   rec.UserCode,
		ClientID:   rec.ClientID,
		Scope:      rec.Scope,
		Status:     rec.Status,
		UserID:     rec.UserID,
		Interval:   rec.Interval,
		CreatedAt:  rec.CreatedAt.Unix(),
		ExpiresAt:  rec.ExpiresAt.Unix(),
	}
	if !rec.LastPolledAt.IsZero() {
		j.LastPolledAt = rec.LastPolledAt.Unix()
	}
	return j
}

func fromDeviceAuthorizationJSON(j *deviceAuthorizationJSON) *storage.DeviceAuthorization {
	if j == nil {
		return nil
	}
	rec := &storage.DeviceAuthorization{
		DeviceCode: j.DeviceCode,
		UserCode:   j.UserCode,
		ClientID:   j.ClientID,
		Scope:      j.Scope,
		Status:     j.Status,
		UserID:     j.UserID,
		Interval:   j.Interval,
		CreatedAt:  time.Unix(j.CreatedAt, 0),
		ExpiresAt:  time.Unix(j.ExpiresAt, 0),
	}
	if j.LastPolledAt > 0 {
		rec.LastPolledAt = time.Unix(j.LastPolledAt, 0)
	}
	return rec
}

// ============================================================
// Helper methods
// ============================================================

// getAndUnmarshal is a generic helper for fetching a key from Redis,
// unmarshalling the JSON data, and converting to the target type.
func getAndUnmarshal[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	notFoundErr error,
	fromJSON func(*J) *T,
) (*T, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return fromJSON(&j), nil
}
