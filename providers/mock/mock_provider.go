// Package mock provides a mock implementation of the Provider interface for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/freemyx/oauth-provider/providers"
)

// Provider is a mock implementation of the providers.Provider interface.
// Override the *Func fields to customize behavior per test.
type Provider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// AuthorizationURLFunc is called when AuthorizationURL() is invoked
	AuthorizationURLFunc func(state string, codeChallenge string, codeChallengeMethod string) string

	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, code string, codeVerifier string) (*oauth2.Token, error)

	// ValidateTokenFunc is called when ValidateToken() is invoked
	ValidateTokenFunc func(ctx context.Context, accessToken string) (*providers.UserInfo, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

// Compile-time interface check
var _ providers.Provider = (*Provider)(nil)

// New creates a mock provider with default implementations: valid tokens map
// to a fixed user, code exchange always succeeds.
func New() *Provider {
	return &Provider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "x"
		},
		AuthorizationURLFunc: func(state, codeChallenge, codeChallengeMethod string) string {
			return fmt.Sprintf("https://provider.example/authorize?state=%s&code_challenge=%s&code_challenge_method=%s",
				state, codeChallenge, codeChallengeMethod)
		},
		ExchangeCodeFunc: func(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
			return &oauth2.Token{
				AccessToken:  "mock-provider-access-token",
				TokenType:    "Bearer",
				RefreshToken: "mock-provider-refresh-token",
			}, nil
		},
		ValidateTokenFunc: func(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
			return &providers.UserInfo{
				ID:       "12345",
				Username: "mockuser",
				Name:     "Mock User",
				Verified: true,
			}, nil
		},
	}
}

func (m *Provider) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallCounts == nil {
		m.CallCounts = make(map[string]int)
	}
	m.CallCounts[method]++
}

// Calls returns how many times the named method was invoked.
func (m *Provider) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// Name implements providers.Provider.
func (m *Provider) Name() string {
	m.recordCall("Name")
	return m.NameFunc()
}

// AuthorizationURL implements providers.Provider.
func (m *Provider) AuthorizationURL(state, codeChallenge, codeChallengeMethod string) string {
	m.recordCall("AuthorizationURL")
	return m.AuthorizationURLFunc(state, codeChallenge, codeChallengeMethod)
}

// ExchangeCode implements providers.Provider.
func (m *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	m.recordCall("ExchangeCode")
	return m.ExchangeCodeFunc(ctx, code, codeVerifier)
}

// ValidateToken implements providers.Provider.
func (m *Provider) ValidateToken(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
	m.recordCall("ValidateToken")
	return m.ValidateTokenFunc(ctx, accessToken)
}
