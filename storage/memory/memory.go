package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-kit/instrumentation"
	"github.com/giantswarm/oauth2-kit/security"
	"github.com/giantswarm/oauth2-kit/storage"
)

// cleanupGracePeriod keeps expired records one sweep past their expiry so
// in-flight verifications judged against a slightly older now never miss.
const cleanupGracePeriod = time.Minute

// maxUserCodeAttempts bounds collision retries when minting user codes.
const maxUserCodeAttempts = 5

// Options tunes the store's lifecycle policy. Zero values select the
// defaults declared in the storage package.
type Options struct {
	AccessTokenTTL       time.Duration
	AuthorizationCodeTTL time.Duration
	DeviceCodeTTL        time.Duration
	DevicePollInterval   time.Duration
	CleanupInterval      time.Duration

	// RotateRefreshTokens mints a fresh refresh token on every access
	// token issuance, invalidating the one presented. The core reports
	// rotation to the client automatically.
	RotateRefreshTokens bool

	Logger *slog.Logger
}

// ownerKey identifies the grant for a (client, resource owner) pair.
type ownerKey struct {
	clientID string
	userID   string
}

type user struct {
	id           string
	passwordHash string
}

// Store is an in-memory Data Handler. All operations are safe for
// concurrent use; records handed out are copies, so callers can mutate
// them without racing the store.
type Store struct {
	mu sync.RWMutex

	clients map[string]*storage.Client // client ID -> client
	users   map[string]user            // username -> credentials

	grants           map[string]*storage.AuthInfo            // grant ID -> grant
	grantByOwner     map[ownerKey]string                     // (client, user) -> grant ID
	grantByCode      map[string]string                       // authorization code -> grant ID
	grantByRefresh   map[string]string                       // refresh token -> grant ID
	tokens           map[string]*storage.AccessToken         // token string -> token
	tokenByGrant     map[string]string                       // grant ID -> current token
	devices          map[string]*storage.DeviceAuthorization // device code -> authorization
	deviceByUserCode map[string]string                       // user code -> device code

	accessTokenTTL      time.Duration
	codeTTL             time.Duration
	deviceCodeTTL       time.Duration
	devicePollInterval  time.Duration
	rotateRefreshTokens bool

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters feed the storage size gauges without taking mu.
	clientsCount atomic.Int64
	grantsCount  atomic.Int64
	tokensCount  atomic.Int64
	devicesCount atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks.
var (
	_ storage.DataHandler = (*Store)(nil)
	_ storage.DeviceStore = (*Store)(nil)
)

// New creates an in-memory store with default policy.
func New() *Store {
	return NewWithOptions(Options{})
}

// NewWithOptions creates an in-memory store with explicit policy. The
// background sweeper starts immediately; call Stop when done.
func NewWithOptions(opts Options) *Store {
	if opts.AccessTokenTTL == 0 {
		opts.AccessTokenTTL = storage.DefaultAccessTokenTTL
	}
	if opts.AuthorizationCodeTTL == 0 {
		opts.AuthorizationCodeTTL = storage.DefaultAuthorizationCodeTTL
	}
	if opts.DeviceCodeTTL == 0 {
		opts.DeviceCodeTTL = storage.DefaultDeviceCodeTTL
	}
	if opts.DevicePollInterval == 0 {
		opts.DevicePollInterval = storage.DefaultDevicePollInterval
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = storage.DefaultCleanupInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		clients:          make(map[string]*storage.Client),
		users:            make(map[string]user),
		grants:           make(map[string]*storage.AuthInfo),
		grantByOwner:     make(map[ownerKey]string),
		grantByCode:      make(map[string]string),
		grantByRefresh:   make(map[string]string),
		tokens:           make(map[string]*storage.AccessToken),
		tokenByGrant:     make(map[string]string),
		devices:          make(map[string]*storage.DeviceAuthorization),
		deviceByUserCode: make(map[string]string),

		accessTokenTTL:      opts.AccessTokenTTL,
		codeTTL:             opts.AuthorizationCodeTTL,
		deviceCodeTTL:       opts.DeviceCodeTTL,
		devicePollInterval:  opts.DevicePollInterval,
		rotateRefreshTokens: opts.RotateRefreshTokens,

		cleanupInterval: opts.CleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          opts.Logger,
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation wires OpenTelemetry instrumentation into the store
// and registers the storage size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage/memory")
	}
	s.clientsCount.Store(int64(len(s.clients)))
	s.grantsCount.Store(int64(len(s.grants)))
	s.tokensCount.Store(int64(len(s.tokens)))
	s.devicesCount.Store(int64(len(s.devices)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCount.Load() },
			func() int64 { return s.grantsCount.Load() },
			func() int64 { return s.tokensCount.Load() },
			func() int64 { return s.devicesCount.Load() },
		)
		if err != nil {
			s.logger.Warn("failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop terminates the background sweeper. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// Provisioning
// ============================================================

// CreateClient registers a client. The secret is bcrypt-hashed before it
// is stored; an empty secret registers a public client.
func (s *Store) CreateClient(client *storage.Client, secret string) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}

	hash := ""
	if secret != "" {
		var err error
		hash, err = storage.HashClientSecret(secret)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.clients[client.ClientID]
	stored := cloneClient(client)
	stored.ClientSecretHash = hash
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.clients[client.ClientID] = stored
	if !existed {
		s.clientsCount.Add(1)
	}

	s.logger.Debug("client registered", "client_id", client.ClientID, "public", secret == "")
	return nil
}

// CreateUser registers resource owner credentials for the password grant.
func (s *Store) CreateUser(username, password, userID string) error {
	if username == "" || userID == "" {
		return fmt.Errorf("username and user ID are required")
	}

	hash, err := storage.HashClientSecret(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = user{id: userID, passwordHash: hash}
	return nil
}

// ============================================================
// ClientStore
// ============================================================

// ValidateClient authenticates a client. Unknown clients and wrong secrets
// both report ErrDenied after a constant-cost comparison, so timing does
// not reveal which one happened.
func (s *Store) ValidateClient(ctx context.Context, clientID, clientSecret, grantType string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "validate_client")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "validate_client", err, startTime) }()

	s.mu.RLock()
	client, ok := s.clients[clientID]
	var clone *storage.Client
	if ok {
		clone = cloneClient(client)
	}
	s.mu.RUnlock()

	// bcrypt comparisons run outside the lock: they are deliberately slow.
	if !ok {
		storage.VerifyAgainstMissing(clientSecret)
		err = fmt.Errorf("%w: client authentication failed", storage.ErrDenied)
		return nil, err
	}
	if !storage.VerifyClientSecret(clone.ClientSecretHash, clientSecret) {
		err = fmt.Errorf("%w: client authentication failed", storage.ErrDenied)
		return nil, err
	}

	s.logger.Debug("client authenticated", "client_id", clientID, "grant_type", grantType)
	return clone, nil
}

// GetClient retrieves a client without authenticating it.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_client", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
		return nil, err
	}
	return cloneClient(client), nil
}

// ValidateScope reports whether the scope may be granted to the client.
func (s *Store) ValidateScope(ctx context.Context, clientID, scope string) error {
	ctx, span := s.startStorageSpan(ctx, "validate_scope")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "validate_scope", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok || !client.AllowsScope(scope) {
		err = fmt.Errorf("%w: scope not grantable", storage.ErrDenied)
		return err
	}
	return nil
}

// ValidateRedirectURI reports whether the redirect URI is registered for
// the client. Matching is exact.
func (s *Store) ValidateRedirectURI(ctx context.Context, clientID, redirectURI string) error {
	ctx, span := s.startStorageSpan(ctx, "validate_redirect_uri")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "validate_redirect_uri", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok || !client.AllowsRedirectURI(redirectURI) {
		err = fmt.Errorf("%w: redirect URI not registered", storage.ErrDenied)
		return err
	}
	return nil
}

// ============================================================
// UserStore
// ============================================================

// AuthenticateUser verifies resource owner credentials. Unknown users and
// wrong passwords are indistinguishable to the caller.
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) (string, error) {
	ctx, span := s.startStorageSpan(ctx, "authenticate_user")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "authenticate_user", err, startTime) }()

	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		storage.VerifyAgainstMissing(password)
		err = fmt.Errorf("%w: resource owner authentication failed", storage.ErrDenied)
		return "", err
	}
	if !storage.VerifyClientSecret(u.passwordHash, password) {
		err = fmt.Errorf("%w: resource owner authentication failed", storage.ErrDenied)
		return "", err
	}
	return u.id, nil
}

// ============================================================
// GrantStore
// ============================================================

// CreateOrUpdateAuthInfo creates the grant for (clientID, userID) or
// refreshes the existing one: a fresh single-use code is minted either
// way, the refresh token persists across updates.
func (s *Store) CreateOrUpdateAuthInfo(ctx context.Context, clientID, userID, scope, redirectURI string) (*storage.AuthInfo, error) {
	ctx, span := s.startStorageSpan(ctx, "create_or_update_auth_info")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "create_or_update_auth_info", err, startTime) }()

	if clientID == "" {
		err = fmt.Errorf("client ID is required")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	key := ownerKey{clientID: clientID, userID: userID}

	if id, ok := s.grantByOwner[key]; ok {
		rec := s.grants[id]
		delete(s.grantByCode, rec.Code)
		rec.Code = storage.GenerateToken()
		rec.Scope = scope
		rec.RedirectURI = redirectURI
		rec.Used = false
		rec.ExpiresAt = now.Add(s.codeTTL)
		s.grantByCode[rec.Code] = id
		return cloneAuthInfo(rec), nil
	}

	rec := &storage.AuthInfo{
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
	s.grants[rec.ID] = rec
	s.grantByOwner[key] = rec.ID
	s.grantByCode[rec.Code] = rec.ID
	s.grantByRefresh[rec.RefreshToken] = rec.ID
	s.grantsCount.Add(1)

	return cloneAuthInfo(rec), nil
}

// GetAuthInfoByID retrieves a grant by its identifier.
func (s *Store) GetAuthInfoByID(ctx context.Context, id string) (*storage.AuthInfo, error) {
	ctx, span := s.startStorageSpan(ctx, "get_auth_info_by_id")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_auth_info_by_id", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.grants[id]
	if !ok {
		err = fmt.Errorf("%w: grant %s", storage.ErrNotFound, id)
		return nil, err
	}
	return cloneAuthInfo(rec), nil
}

// GetAuthInfoByCode retrieves a grant by its authorization code.
func (s *Store) GetAuthInfoByCode(ctx context.Context, code string) (*storage.AuthInfo, error) {
	ctx, span := s.startStorageSpan(ctx, "get_auth_info_by_code")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_auth_info_by_code", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.grantByCode[code]
	if !ok {
		err = fmt.Errorf("%w: unknown authorization code", storage.ErrNotFound)
		return nil, err
	}
	return cloneAuthInfo(s.grants[id]), nil
}

// GetAuthInfoByRefreshToken retrieves a grant by its refresh token.
func (s *Store) GetAuthInfoByRefreshToken(ctx context.Context, refreshToken string) (*storage.AuthInfo, error) {
	ctx, span := s.startStorageSpan(ctx, "get_auth_info_by_refresh_token")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_auth_info_by_refresh_token", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.grantByRefresh[refreshToken]
	if !ok {
		err = fmt.Errorf("%w: unknown refresh token", storage.ErrNotFound)
		return nil, err
	}
	return cloneAuthInfo(s.grants[id]), nil
}

// MarkAuthInfoUsed consumes the grant's authorization code. The second
// mark reports ErrGrantUsed; check-and-mark is atomic under the store
// mutex.
func (s *Store) MarkAuthInfoUsed(ctx context.Context, id string) error {
	ctx, span := s.startStorageSpan(ctx, "mark_auth_info_used")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "mark_auth_info_used", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.grants[id]
	if !ok {
		err = fmt.Errorf("%w: grant %s", storage.ErrNotFound, id)
		return err
	}
	if rec.Used {
		err = storage.ErrGrantUsed
		return err
	}
	rec.Used = true
	return nil
}

// ============================================================
// TokenStore
// ============================================================

// CreateOrUpdateAccessToken mints an access token for the grant, replacing
// the grant's previous token. With rotation enabled it also mints a fresh
// refresh token and rewrites it onto the caller's record.
func (s *Store) CreateOrUpdateAccessToken(ctx context.Context, authInfo *storage.AuthInfo) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "create_or_update_access_token")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "create_or_update_access_token", err, startTime) }()

	if authInfo == nil || authInfo.ID == "" {
		err = fmt.Errorf("auth info is required")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.grants[authInfo.ID]
	if !ok {
		err = fmt.Errorf("%w: grant %s", storage.ErrNotFound, authInfo.ID)
		return nil, err
	}

	if old, hasOld := s.tokenByGrant[rec.ID]; hasOld {
		delete(s.tokens, old)
	} else {
		s.tokensCount.Add(1)
	}

	tok := &storage.AccessToken{
		Token:     storage.GenerateToken(),
		AuthID:    rec.ID,
		IssuedAt:  time.Now(),
		ExpiresIn: int64(s.accessTokenTTL / time.Second),
	}
	s.tokens[tok.Token] = tok
	s.tokenByGrant[rec.ID] = tok.Token

	if s.rotateRefreshTokens && rec.RefreshToken != "" {
		delete(s.grantByRefresh, rec.RefreshToken)
		rec.RefreshToken = storage.GenerateToken()
		s.grantByRefresh[rec.RefreshToken] = rec.ID
	}
	// The caller's record reflects the stored refresh token either way.
	authInfo.RefreshToken = rec.RefreshToken

	return cloneToken(tok), nil
}

// GetAccessToken resolves a bearer string. Expiry is the caller's call.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_access_token", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[token]
	if !ok {
		err = fmt.Errorf("%w: unknown access token", storage.ErrNotFound)
		return nil, err
	}
	return cloneToken(tok), nil
}

// ============================================================
// DeviceStore
// ============================================================

// CreateDeviceAuthorization mints a pending device authorization carrying
// a fresh device code and user code pair.
func (s *Store) CreateDeviceAuthorization(ctx context.Context, clientID, scope string) (*storage.DeviceAuthorization, error) {
	ctx, span := s.startStorageSpan(ctx, "create_device_authorization")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "create_device_authorization", err, startTime) }()

	if clientID == "" {
		err = fmt.Errorf("client ID is required")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var userCode string
	for attempt := 0; attempt < maxUserCodeAttempts; attempt++ {
		code, genErr := storage.GenerateUserCode(storage.DefaultUserCodeLength)
		if genErr != nil {
			err = genErr
			return nil, err
		}
		if _, taken := s.deviceByUserCode[code]; !taken {
			userCode = code
			break
		}
	}
	if userCode == "" {
		err = fmt.Errorf("could not mint a unique user code")
		return nil, err
	}

	now := time.Now()
	rec := &storage.DeviceAuthorization{
		DeviceCode: storage.GenerateToken(),
		UserCode:   userCode,
		ClientID:   clientID,
		Scope:      scope,
		Status:     storage.DeviceStatusPending,
		Interval:   int64(s.devicePollInterval / time.Second),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.deviceCodeTTL),
	}
	s.devices[rec.DeviceCode] = rec
	s.deviceByUserCode[rec.UserCode] = rec.DeviceCode
	s.devicesCount.Add(1)

	return cloneDevice(rec), nil
}

// GetDeviceAuthorizationByUserCode retrieves a device authorization by its
// user code.
func (s *Store) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*storage.DeviceAuthorization, error) {
	ctx, span := s.startStorageSpan(ctx, "get_device_authorization_by_user_code")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_device_authorization_by_user_code", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	deviceCode, ok := s.deviceByUserCode[userCode]
	if !ok {
		err = fmt.Errorf("%w: unknown user code", storage.ErrNotFound)
		return nil, err
	}
	return cloneDevice(s.devices[deviceCode]), nil
}

// ApproveDeviceAuthorization binds the pending authorization to the
// resource owner. Expired codes report ErrNotFound.
func (s *Store) ApproveDeviceAuthorization(ctx context.Context, userCode, userID string) error {
	return s.decideDeviceAuthorization(ctx, "approve_device_authorization", userCode, storage.DeviceStatusApproved, userID)
}

// DenyDeviceAuthorization records the resource owner's refusal.
func (s *Store) DenyDeviceAuthorization(ctx context.Context, userCode string) error {
	return s.decideDeviceAuthorization(ctx, "deny_device_authorization", userCode, storage.DeviceStatusDenied, "")
}

func (s *Store) decideDeviceAuthorization(ctx context.Context, op, userCode, status, userID string) error {
	ctx, span := s.startStorageSpan(ctx, op)
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, op, err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	deviceCode, ok := s.deviceByUserCode[userCode]
	if !ok {
		err = fmt.Errorf("%w: unknown user code", storage.ErrNotFound)
		return err
	}
	rec := s.devices[deviceCode]
	if rec.Expired(time.Now()) {
		err = fmt.Errorf("%w: user code expired", storage.ErrNotFound)
		return err
	}
	rec.Status = status
	rec.UserID = userID
	return nil
}

// TouchDevicePoll records a poll at now and returns the record as of the
// previous poll. Read-and-touch is atomic under the store mutex, so
// concurrent polls cannot both observe an open interval window.
func (s *Store) TouchDevicePoll(ctx context.Context, deviceCode string, now time.Time) (*storage.DeviceAuthorization, error) {
	ctx, span := s.startStorageSpan(ctx, "touch_device_poll")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "touch_device_poll", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.devices[deviceCode]
	if !ok {
		err = fmt.Errorf("%w: unknown device code", storage.ErrNotFound)
		return nil, err
	}

	prior := cloneDevice(rec)
	rec.LastPolledAt = now
	return prior, nil
}

// ConsumeDeviceAuthorization removes the authorization and returns it. A
// second consume of the same device code reports ErrNotFound, which keeps
// token issuance at-most-once.
func (s *Store) ConsumeDeviceAuthorization(ctx context.Context, deviceCode string) (*storage.DeviceAuthorization, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_device_authorization")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "consume_device_authorization", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.devices[deviceCode]
	if !ok {
		err = fmt.Errorf("%w: unknown device code", storage.ErrNotFound)
		return nil, err
	}
	delete(s.devices, deviceCode)
	delete(s.deviceByUserCode, rec.UserCode)
	s.devicesCount.Add(-1)

	return cloneDevice(rec), nil
}

// ============================================================
// Background cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup sweeps expired access tokens and device authorizations. Grants
// are kept: their refresh tokens outlive the code exchange window, so a
// grant only leaves this store when the process does.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cleaned := 0

	for tokenStr, tok := range s.tokens {
		if security.IsExpiredWithGracePeriod(now, tok.ExpiresAt(), cleanupGracePeriod) {
			delete(s.tokens, tokenStr)
			if s.tokenByGrant[tok.AuthID] == tokenStr {
				delete(s.tokenByGrant, tok.AuthID)
			}
			s.tokensCount.Add(-1)
			cleaned++
		}
	}

	for deviceCode, rec := range s.devices {
		if security.IsExpiredWithGracePeriod(now, rec.ExpiresAt, cleanupGracePeriod) {
			delete(s.devices, deviceCode)
			delete(s.deviceByUserCode, rec.UserCode)
			s.devicesCount.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("swept expired records", "removed", cleaned)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000.0
	s.instrumentation.RecordStorageOperation(ctx, operation, result, durationMs)
}

// ============================================================
// Record cloning
// ============================================================

func cloneClient(c *storage.Client) *storage.Client {
	out := *c
	out.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	out.GrantTypes = append([]string(nil), c.GrantTypes...)
	out.Scopes = append([]string(nil), c.Scopes...)
	return &out
}

func cloneAuthInfo(a *storage.AuthInfo) *storage.AuthInfo {
	out := *a
	return &out
}

func cloneToken(t *storage.AccessToken) *storage.AccessToken {
	out := *t
	return &out
}

func cloneDevice(d *storage.DeviceAuthorization) *storage.DeviceAuthorization {
	out := *d
	return &out
}
