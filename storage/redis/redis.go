// Package redis provides a Redis/Valkey-backed implementation of all storage
// interfaces, suitable for multi-instance production deployments.
//
// Records are stored as JSON under the shared keyspace defined by the storage
// package (clients.<id>, auth_codes.<code>, ...), optionally namespaced by a
// deployment prefix. Expiring records get a native key TTL as best-effort
// garbage collection; readers still apply the record's expires_at timestamp.
// Authorization codes and login state are consumed with GETDEL, so redemption
// is atomic across server instances.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/freemyx/oauth-provider/internal/util"
	"github.com/freemyx/oauth-provider/storage"
)

const (
	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8
)

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is the Redis server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Redis authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is an optional deployment namespace prepended to every key
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Redis-backed implementation of all storage interfaces.
type Store struct {
	client *goredis.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New creates a new Redis-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:      cfg.Address,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.TLS,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	logger.Info("connected to redis storage backend", "address", cfg.Address, "db", cfg.DB)

	return &Store{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}, nil
}

// NewFromClient wraps an existing go-redis client. The caller retains
// ownership of the client's lifecycle; Close on the returned Store still
// closes it.
func NewFromClient(client *goredis.Client, keyPrefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, prefix: keyPrefix, logger: logger}
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies the backend is reachable. Useful for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// setJSON marshals v and writes it under key. A zero ttl stores without expiry.
func (s *Store) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record for %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// getJSON reads key into v. Returns notFound when the key is absent.
func (s *Store) getJSON(ctx context.Context, key string, v any, notFound error) error {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return notFound
		}
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record at %s: %w", key, err)
	}
	return nil
}

// getDelJSON atomically reads and deletes key via GETDEL. Returns notFound
// when the key is absent — including when a concurrent caller consumed it
// first, which is what makes single-use redemption safe across instances.
func (s *Store) getDelJSON(ctx context.Context, key string, v any, notFound error) error {
	data, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return notFound
		}
		return fmt.Errorf("failed to consume %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record at %s: %w", key, err)
	}
	return nil
}

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	return s.setJSON(ctx, storage.ClientKey(client.ClientID), client, 0)
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var client storage.Client
	if err := s.getJSON(ctx, storage.ClientKey(clientID), &client, storage.ErrClientNotFound); err != nil {
		return nil, err
	}
	return &client, nil
}

// DeleteClient removes a client registration
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	return s.client.Del(ctx, s.key(storage.ClientKey(clientID))).Err()
}

// SaveAccessToken persists an access token with a native key TTL
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken, ttl time.Duration) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("token is required")
	}
	return s.setJSON(ctx, storage.AccessTokenKey(token.Token), token, ttl)
}

// GetAccessToken retrieves an access token record
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	var record storage.AccessToken
	if err := s.getJSON(ctx, storage.AccessTokenKey(token), &record, storage.ErrTokenNotFound); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteAccessToken removes an access token
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.key(storage.AccessTokenKey(token))).Err()
}

// SaveRefreshToken persists a refresh token without expiry
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("token is required")
	}
	return s.setJSON(ctx, storage.RefreshTokenKey(token.Token), token, 0)
}

// GetRefreshToken retrieves a refresh token record
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	var record storage.RefreshToken
	if err := s.getJSON(ctx, storage.RefreshTokenKey(token), &record, storage.ErrTokenNotFound); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteRefreshToken removes a refresh token
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.key(storage.RefreshTokenKey(token))).Err()
}

// SaveAuthorizationCode persists an authorization code with a native key TTL
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode, ttl time.Duration) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("code is required")
	}
	return s.setJSON(ctx, storage.AuthCodeKey(code.Code), code, ttl)
}

// GetAuthorizationCode retrieves an authorization code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	var record storage.AuthorizationCode
	if err := s.getJSON(ctx, storage.AuthCodeKey(code), &record, storage.ErrCodeNotFound); err != nil {
		return nil, err
	}
	return &record, nil
}

// ConsumeAuthorizationCode atomically retrieves and deletes an authorization
// code via GETDEL
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	var record storage.AuthorizationCode
	if err := s.getDelJSON(ctx, storage.AuthCodeKey(code), &record, storage.ErrCodeNotFound); err != nil {
		return nil, err
	}
	s.logger.Debug("consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return &record, nil
}

// SaveLoginState persists browser login state with a native key TTL
func (s *Store) SaveLoginState(ctx context.Context, state *storage.LoginState, ttl time.Duration) error {
	if state == nil || state.State == "" {
		return fmt.Errorf("state is required")
	}
	return s.setJSON(ctx, storage.LoginStateKey(state.State), state, ttl)
}

// ConsumeLoginState atomically retrieves and deletes login state via GETDEL
func (s *Store) ConsumeLoginState(ctx context.Context, state string) (*storage.LoginState, error) {
	var record storage.LoginState
	if err := s.getDelJSON(ctx, storage.LoginStateKey(state), &record, storage.ErrStateNotFound); err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveUser upserts a user profile
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	return s.setJSON(ctx, storage.UserKey(user.UserID), user, 0)
}

// GetUser retrieves a user profile by namespaced ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	var user storage.User
	if err := s.getJSON(ctx, storage.UserKey(userID), &user, storage.ErrUserNotFound); err != nil {
		return nil, err
	}
	return &user, nil
}
