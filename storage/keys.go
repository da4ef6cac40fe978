package storage

// Keyspace prefixes shared by keyed backends. The dot-separated convention is
// stable; external tooling may depend on it.
const (
	ClientKeyPrefix       = "clients."
	AuthCodeKeyPrefix     = "auth_codes."
	AccessTokenKeyPrefix  = "access_tokens."
	RefreshTokenKeyPrefix = "refresh_tokens."
	UserKeyPrefix         = "users."
	LoginStateKeyPrefix   = "pkce_state."
)

// ClientKey returns the storage key for a client registration.
func ClientKey(clientID string) string { return ClientKeyPrefix + clientID }

// AuthCodeKey returns the storage key for an authorization code.
func AuthCodeKey(code string) string { return AuthCodeKeyPrefix + code }

// AccessTokenKey returns the storage key for an access token.
func AccessTokenKey(token string) string { return AccessTokenKeyPrefix + token }

// RefreshTokenKey returns the storage key for a refresh token.
func RefreshTokenKey(token string) string { return RefreshTokenKeyPrefix + token }

// UserKey returns the storage key for a user profile.
func UserKey(userID string) string { return UserKeyPrefix + userID }

// LoginStateKey returns the storage key for browser login state.
func LoginStateKey(state string) string { return LoginStateKeyPrefix + state }
