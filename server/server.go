package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/freemyx/oauth-provider/instrumentation"
	"github.com/freemyx/oauth-provider/internal/util"
	"github.com/freemyx/oauth-provider/providers"
	"github.com/freemyx/oauth-provider/security"
	"github.com/freemyx/oauth-provider/storage"
)

// Default token and flow lifetimes.
const (
	DefaultAuthorizationCodeTTL = 10 * time.Minute
	DefaultAccessTokenTTL       = time.Hour
	DefaultLoginStateTTL        = 10 * time.Minute
)

// DefaultExchangeScope is the scope granted to tokens minted by the
// token-exchange grant and the browser callback flow when the request does
// not name one.
const DefaultExchangeScope = "read profile"

// Config holds the server's deployment configuration. Issuer is required;
// every other field has a working default applied by New.
type Config struct {
	// Issuer is the authorization server's identity, echoed as the iss
	// parameter on authorization responses and in the metadata document.
	// Must be an absolute URL.
	Issuer string

	// AuthorizationCodeTTL bounds the life of minted authorization codes.
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL bounds the life of minted access tokens. Refresh
	// tokens carry no expiry and remain valid until externally revoked.
	AccessTokenTTL time.Duration

	// LoginStateTTL bounds the life of browser login state records.
	LoginStateTTL time.Duration

	// ExchangeScope is granted when a token-exchange request carries no
	// scope of its own.
	ExchangeScope string

	// SupportedScopes is advertised in the server metadata document.
	SupportedScopes []string

	// TrustProxy controls whether X-Forwarded-For is consulted when
	// resolving client IPs for rate limiting and audit logging.
	TrustProxy bool

	// TrustedProxyCount is the number of trailing proxies to skip in
	// X-Forwarded-For when TrustProxy is enabled.
	TrustedProxyCount int
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("issuer is not a valid URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("issuer must be an absolute URL, got %q", c.Issuer)
	}
	return nil
}

func applyDefaults(c *Config) *Config {
	out := *c
	if out.AuthorizationCodeTTL <= 0 {
		out.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if out.AccessTokenTTL <= 0 {
		out.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if out.LoginStateTTL <= 0 {
		out.LoginStateTTL = DefaultLoginStateTTL
	}
	if out.ExchangeScope == "" {
		out.ExchangeScope = DefaultExchangeScope
	}
	if len(out.SupportedScopes) == 0 {
		out.SupportedScopes = []string{"read", "write", "profile"}
	}
	return &out
}

// Server implements the OAuth 2.1 server logic (provider-agnostic).
// It coordinates the protocol state machine using a Provider and storage
// backends.
type Server struct {
	provider        providers.Provider
	clientStore     storage.ClientStore
	tokenStore      storage.TokenStore
	flowStore       storage.FlowStore
	userStore       storage.UserStore
	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // IP-based rate limiter
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config
}

// New creates a new OAuth server. The provider may be nil, in which case the
// token-exchange grant and the browser login/callback flows are unavailable.
func New(
	provider providers.Provider,
	clientStore storage.ClientStore,
	tokenStore storage.TokenStore,
	flowStore storage.FlowStore,
	userStore storage.UserStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if userStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		provider:    provider,
		clientStore: clientStore,
		tokenStore:  tokenStore,
		flowStore:   flowStore,
		userStore:   userStore,
		Config:      applyDefaults(config),
		Logger:      logger,
	}, nil
}

// NewFromStore is a convenience constructor for backends implementing the
// full storage.Store interface.
func NewFromStore(provider providers.Provider, store storage.Store, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return New(provider, store, store, store, store, config, logger)
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(auditor *security.Auditor) {
	s.Auditor = auditor
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(limiter *security.RateLimiter) {
	s.RateLimiter = limiter
}

// SetInstrumentation sets the OpenTelemetry instrumentation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// Provider returns the configured external identity provider, or nil.
func (s *Server) Provider() providers.Provider {
	return s.provider
}

// accessTokenExpiresIn is the advertised access token lifetime in whole seconds.
func (s *Server) accessTokenExpiresIn() int64 {
	return int64(s.Config.AccessTokenTTL / time.Second)
}

// issueAccessToken mints and persists a fresh access token.
func (s *Server) issueAccessToken(ctx context.Context, clientID, userID, scope string) (*storage.AccessToken, error) {
	token := &storage.AccessToken{
		Token:     util.NewToken(),
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		TokenType: "Bearer",
		ExpiresAt: util.NowUnix() + s.accessTokenExpiresIn(),
	}
	if err := s.tokenStore.SaveAccessToken(ctx, token, s.Config.AccessTokenTTL); err != nil {
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}
	return token, nil
}

// issueRefreshToken mints and persists a fresh refresh token. Refresh tokens
// carry no expiry and are not rotated on use.
func (s *Server) issueRefreshToken(ctx context.Context, clientID, userID, scope string) (*storage.RefreshToken, error) {
	token := &storage.RefreshToken{
		Token:    util.NewToken(),
		ClientID: clientID,
		UserID:   userID,
		Scope:    scope,
		IssuedAt: util.NowUnix(),
	}
	if err := s.tokenStore.SaveRefreshToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}
	return token, nil
}
