// Package x implements the providers.Provider interface for X (Twitter)
// OAuth 2.0 with PKCE.
package x

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/freemyx/oauth-provider/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

// providerName is the name returned by Provider.Name(). It is also the
// namespace tag for local user IDs and the subject_issuer accepted by the
// token-exchange grant.
const providerName = "x"

// X API endpoints
const (
	authURL      = "https://x.com/i/oauth2/authorize"
	tokenURL     = "https://api.x.com/2/oauth2/token"
	userEndpoint = "https://api.x.com/2/users/me"
)

// DefaultScopes are requested when starting a browser login. offline.access
// makes X issue a refresh token alongside the access token.
var DefaultScopes = []string{"users.read", "tweet.read", "offline.access"}

// Provider implements the providers.Provider interface for X OAuth.
type Provider struct {
	*oauth2.Config
	httpClient     *http.Client
	requestTimeout time.Duration
}

// Config holds X OAuth configuration.
type Config struct {
	// ClientID is the X OAuth 2.0 client ID.
	ClientID string

	// ClientSecret is the X OAuth 2.0 client secret. The X token endpoint
	// requires HTTP Basic client authentication even for PKCE flows.
	ClientSecret string

	// RedirectURL is the OAuth callback URL.
	RedirectURL string

	// Scopes are optional custom scopes (defaults to DefaultScopes).
	Scopes []string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout is the timeout for X API calls (default: 10s).
	RequestTimeout time.Duration
}

// NewProvider creates a new X OAuth provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	scopesCopy := make([]string, len(scopes))
	copy(scopesCopy, scopes)

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = 10 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	return &Provider{
		Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopesCopy,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
				// X requires client_id:client_secret as Basic auth at the
				// token endpoint.
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// AuthorizationURL generates the X authorization URL with PKCE parameters.
func (p *Provider) AuthorizationURL(state string, codeChallenge string, codeChallengeMethod string) string {
	var opts []oauth2.AuthCodeOption
	if codeChallenge != "" && codeChallengeMethod != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", codeChallengeMethod),
		)
	}
	return p.AuthCodeURL(state, opts...)
}

// ensureContextTimeout ensures the context has a deadline, adding one if needed.
func (p *Provider) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.requestTimeout)
}

// ExchangeCode exchanges a provider authorization code for tokens using the
// stored PKCE verifier.
func (p *Provider) ExchangeCode(ctx context.Context, code string, codeVerifier string) (*oauth2.Token, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	return providers.ExchangeCodeWithPKCE(ctx, p.Config, p.httpClient, code, codeVerifier)
}

// ValidateToken validates an access token by calling X's users/me endpoint
// and maps the response into a UserInfo.
func (p *Provider) ValidateToken(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	endpoint := userEndpoint + "?" + url.Values{
		"user.fields": {"profile_image_url,verified"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info request failed with status %d", resp.StatusCode)
	}

	var xUser struct {
		Data struct {
			ID              string `json:"id"`
			Username        string `json:"username"`
			Name            string `json:"name"`
			ProfileImageURL string `json:"profile_image_url"`
			Verified        bool   `json:"verified"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&xUser); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	if xUser.Data.ID == "" {
		return nil, fmt.Errorf("user info response missing id")
	}

	return &providers.UserInfo{
		ID:              xUser.Data.ID,
		Username:        xUser.Data.Username,
		Name:            xUser.Data.Name,
		ProfileImageURL: xUser.Data.ProfileImageURL,
		Verified:        xUser.Data.Verified,
	}, nil
}
