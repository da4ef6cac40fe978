// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freemyx/oauth-provider/internal/util"
	"github.com/freemyx/oauth-provider/storage"
)

// tokenIDLogLength is the number of characters to include when logging token
// IDs. Enough uniqueness for debugging while keeping logs secure.
const tokenIDLogLength = 8

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, TokenStore, FlowStore, and UserStore.
//
// Expiry handling: the TTL passed to save methods is redundant for this
// backend — the background sweeper and all readers rely on the authoritative
// expires_at timestamp carried by each record.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	authCodes     map[string]*storage.AuthorizationCode
	loginStates   map[string]*storage.LoginState
	users         map[string]*storage.User

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCount       atomic.Int64
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64
	authCodesCount     atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
	logger          *slog.Logger
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store sweeping expired records at
// the given interval. A non-positive interval disables the sweeper.
func NewWithInterval(interval time.Duration) *Store {
	s := &Store{
		clients:         make(map[string]*storage.Client),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		loginStates:     make(map[string]*storage.LoginState),
		users:           make(map[string]*storage.User),
		cleanupInterval: interval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}
	if interval > 0 {
		go s.cleanupLoop()
	}
	return s
}

// SetLogger replaces the store's logger. Call before serving traffic.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired removes records whose authoritative timestamp has passed.
// Refresh tokens, clients, and users do not expire.
func (s *Store) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var codes, tokens, states int
	for code, record := range s.authCodes {
		if util.IsExpired(record.ExpiresAt) {
			delete(s.authCodes, code)
			codes++
		}
	}
	for token, record := range s.accessTokens {
		if util.IsExpired(record.ExpiresAt) {
			delete(s.accessTokens, token)
			tokens++
		}
	}
	for state, record := range s.loginStates {
		if util.IsExpired(record.ExpiresAt) {
			delete(s.loginStates, state)
			states++
		}
	}
	s.authCodesCount.Store(int64(len(s.authCodes)))
	s.accessTokensCount.Store(int64(len(s.accessTokens)))

	if codes+tokens+states > 0 {
		s.logger.Debug("cleaned up expired records",
			"auth_codes", codes,
			"access_tokens", tokens,
			"login_states", states,
		)
	}
}

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *client
	s.clients[client.ClientID] = &c
	s.clientsCount.Store(int64(len(s.clients)))
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	c := *client
	return &c, nil
}

// DeleteClient removes a client registration
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, clientID)
	s.clientsCount.Store(int64(len(s.clients)))
	return nil
}

// SaveAccessToken persists an access token. The TTL is ignored; the record's
// expires_at drives both validation and cleanup.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken, ttl time.Duration) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := *token
	s.accessTokens[token.Token] = &t
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	return nil
}

// GetAccessToken retrieves an access token record
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.accessTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	t := *record
	return &t, nil
}

// DeleteAccessToken removes an access token
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accessTokens, token)
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	return nil
}

// SaveRefreshToken persists a refresh token without expiry
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := *token
	s.refreshTokens[token.Token] = &t
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	return nil
}

// GetRefreshToken retrieves a refresh token record
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	t := *record
	return &t, nil
}

// DeleteRefreshToken removes a refresh token
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, token)
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	return nil
}

// SaveAuthorizationCode persists an authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode, ttl time.Duration) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("code is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *code
	s.authCodes[code.Code] = &c
	s.authCodesCount.Store(int64(len(s.authCodes)))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}
	c := *record
	return &c, nil
}

// ConsumeAuthorizationCode atomically retrieves and deletes an authorization
// code. The write lock spans lookup and delete, so of any set of concurrent
// callers exactly one receives the record.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.authCodes[code]
	if !ok {
		return nil, fmt.Errorf("%w: already consumed or never issued", storage.ErrCodeNotFound)
	}
	delete(s.authCodes, code)
	s.authCodesCount.Store(int64(len(s.authCodes)))

	s.logger.Debug("consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))

	c := *record
	return &c, nil
}

// SaveLoginState persists browser login state
func (s *Store) SaveLoginState(ctx context.Context, state *storage.LoginState, ttl time.Duration) error {
	if state == nil || state.State == "" {
		return fmt.Errorf("state is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := *state
	s.loginStates[state.State] = &st
	return nil
}

// ConsumeLoginState atomically retrieves and deletes login state
func (s *Store) ConsumeLoginState(ctx context.Context, state string) (*storage.LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.loginStates[state]
	if !ok {
		return nil, storage.ErrStateNotFound
	}
	delete(s.loginStates, state)

	st := *record
	return &st, nil
}

// SaveUser upserts a user profile
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.UserID == "" {
		return fmt.Errorf("user ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := *user
	s.users[user.UserID] = &u
	return nil
}

// GetUser retrieves a user profile by namespaced ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}
	u := *user
	return &u, nil
}

// Stats reports current record counts. The counters are updated atomically on
// every write, so this is safe to call from metric collection callbacks.
type Stats struct {
	Clients       int64
	AccessTokens  int64
	RefreshTokens int64
	AuthCodes     int64
}

// Stats returns current record counts for observability.
func (s *Store) Stats() Stats {
	return Stats{
		Clients:       s.clientsCount.Load(),
		AccessTokens:  s.accessTokensCount.Load(),
		RefreshTokens: s.refreshTokensCount.Load(),
		AuthCodes:     s.authCodesCount.Load(),
	}
}
