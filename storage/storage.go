package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by stores. Callers use errors.Is to distinguish
// "record absent" from transient backend failures.
var (
	ErrClientNotFound = errors.New("client not found")
	ErrTokenNotFound  = errors.New("token not found")
	ErrCodeNotFound   = errors.New("authorization code not found")
	ErrStateNotFound  = errors.New("login state not found")
	ErrUserNotFound   = errors.New("user not found")
)

// ClientStore defines the interface for managing OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID.
	// Returns ErrClientNotFound if no client is registered under clientID.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// DeleteClient removes a client registration
	DeleteClient(ctx context.Context, clientID string) error
}

// TokenStore defines the interface for storing and retrieving issued tokens.
// Access tokens carry a TTL; refresh tokens are stored without expiry.
type TokenStore interface {
	// SaveAccessToken persists an access token with the given TTL
	SaveAccessToken(ctx context.Context, token *AccessToken, ttl time.Duration) error

	// GetAccessToken retrieves an access token record.
	// Returns ErrTokenNotFound if absent (including TTL-evicted).
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteAccessToken removes an access token
	DeleteAccessToken(ctx context.Context, token string) error

	// SaveRefreshToken persists a refresh token without expiry
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token record.
	// Returns ErrTokenNotFound if absent.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// DeleteRefreshToken removes a refresh token
	DeleteRefreshToken(ctx context.Context, token string) error
}

// FlowStore defines the interface for managing authorization codes and
// browser login state.
type FlowStore interface {
	// SaveAuthorizationCode persists an authorization code with the given TTL
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode, ttl time.Duration) error

	// GetAuthorizationCode retrieves an authorization code without consuming it.
	// Returns ErrCodeNotFound if absent.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically retrieves and deletes an
	// authorization code. Exactly one of any set of concurrent callers
	// receives the record; the rest receive ErrCodeNotFound.
	// SECURITY: This operation MUST be atomic so a code redeems at most once.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// SaveLoginState persists browser login state (state nonce -> PKCE
	// verifier binding) with the given TTL
	SaveLoginState(ctx context.Context, state *LoginState, ttl time.Duration) error

	// ConsumeLoginState atomically retrieves and deletes login state.
	// Returns ErrStateNotFound if absent.
	ConsumeLoginState(ctx context.Context, state string) (*LoginState, error)
}

// UserStore defines the interface for local user profiles mapped from the
// external identity provider.
type UserStore interface {
	// SaveUser upserts a user profile
	SaveUser(ctx context.Context, user *User) error

	// GetUser retrieves a user profile by namespaced ID (e.g. "x:12345").
	// Returns ErrUserNotFound if absent.
	GetUser(ctx context.Context, userID string) (*User, error)
}

// Store combines all storage concerns. Backends implement the full interface;
// consumers depend only on the slice they need.
type Store interface {
	ClientStore
	TokenStore
	FlowStore
	UserStore

	// Close releases backend resources (connections, cleanup goroutines)
	Close() error
}

// Client represents a registered OAuth client.
type Client struct {
	ClientID                string   `json:"client_id"`
	ClientSecretHash        string   `json:"client_secret_hash,omitempty"` // bcrypt hash; empty for public clients
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ClientName              string   `json:"client_name,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"` // 0 = never
}

// IsPublic reports whether the client authenticates by identity alone.
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == "none"
}

// HasGrantType reports whether the client is allowed to use the given grant.
func (c *Client) HasGrantType(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// HasRedirectURI reports whether uri is in the client's registered set.
// Comparison is exact; no normalization is applied.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AuthorizationCode represents a single-use authorization code.
type AuthorizationCode struct {
	Code                string `json:"code"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope,omitempty"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	UserID              string `json:"user_id,omitempty"` // set for codes minted by the callback flow
	ExpiresAt           int64  `json:"expires_at"`        // Unix seconds, authoritative
}

// AccessToken represents an issued bearer access token.
type AccessToken struct {
	Token     string `json:"token"`
	ClientID  string `json:"client_id"`
	UserID    string `json:"user_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"token_type"` // always "Bearer"
	ExpiresAt int64  `json:"expires_at"` // Unix seconds, authoritative
}

// RefreshToken represents an issued refresh token. Refresh tokens carry no
// expiry and are not rotated on use; they remain valid until deleted.
type RefreshToken struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	IssuedAt int64  `json:"issued_at"`
}

// User is the local profile for an external-identity-provider user.
// UserID is namespaced by provider tag ("x:<external id>"). The raw provider
// access token is retained for later provider API calls.
type User struct {
	UserID          string `json:"user_id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	Email           string `json:"email,omitempty"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	Verified        bool   `json:"verified"`
	ProviderToken   string `json:"x_access_token,omitempty"`
	UpdatedAt       int64  `json:"updated_at"`
}

// LoginState binds a browser-flow state nonce to the PKCE verifier sent to
// the external provider and the local client the flow was started for.
type LoginState struct {
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
	ClientID     string `json:"client_id,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresAt    int64  `json:"expires_at"`
}
