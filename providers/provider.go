// Package providers defines the interface for external identity providers and
// implements provider-specific logic for X (Twitter).
package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// Provider defines the interface for external identity providers.
// The server brokers provider credentials into locally-issued tokens; the
// provider's Name() doubles as the namespace tag for local user IDs
// ("<name>:<external id>") and as the subject_issuer value accepted by the
// token-exchange grant.
type Provider interface {
	// Name returns the provider tag (e.g., "x")
	Name() string

	// AuthorizationURL generates the URL to redirect users for authentication.
	// codeChallenge and codeChallengeMethod carry the server-to-provider PKCE
	// parameters (pass empty strings to disable).
	AuthorizationURL(state string, codeChallenge string, codeChallengeMethod string) string

	// ExchangeCode exchanges a provider authorization code for tokens.
	// codeVerifier is the PKCE verifier minted when the flow started.
	ExchangeCode(ctx context.Context, code string, codeVerifier string) (*oauth2.Token, error)

	// ValidateToken validates a provider access token and returns the
	// provider's view of the user. A nil error means the token is live.
	ValidateToken(ctx context.Context, accessToken string) (*UserInfo, error)
}

// UserInfo represents user information from a provider.
type UserInfo struct {
	// ID is the unique user identifier from the provider (not yet namespaced)
	ID string

	// Username is the user's handle at the provider
	Username string

	// Name is the user's display name
	Name string

	// Email is the user's email address, when the provider exposes one
	Email string

	// ProfileImageURL is the URL of the user's avatar
	ProfileImageURL string

	// Verified indicates the provider's verified flag for the account
	Verified bool
}
