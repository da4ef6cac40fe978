package oauth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/freemyx/oauth-provider/instrumentation"
	"github.com/freemyx/oauth-provider/providers"
	"github.com/freemyx/oauth-provider/storage"
)

// Config holds the deployment configuration for an OAuth handler.
type Config struct {
	// Issuer is the authorization server's base URL (required). It is
	// advertised in the metadata document and echoed as the iss parameter
	// on authorization responses.
	Issuer string

	// Store is the persistence backend (required).
	Store storage.Store

	// Provider is the external identity provider used by the
	// token-exchange grant and the browser login flow. Optional; when nil
	// those paths are unavailable.
	Provider providers.Provider

	// SupportedScopes is advertised in the metadata document.
	// Default: read, write, profile.
	SupportedScopes []string

	// ExchangeScope is granted to token-exchange and callback tokens when
	// the request names none. Default: "read profile".
	ExchangeScope string

	// AuthorizationCodeTTL is how long authorization codes live.
	// Default: 10 minutes.
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL is how long access tokens live. Default: 1 hour.
	AccessTokenTTL time.Duration

	// LoginStateTTL is how long browser login state lives.
	// Default: 10 minutes.
	LoginStateTTL time.Duration

	// RateLimit configures per-IP request rate limiting.
	RateLimit RateLimitConfig

	// TrustProxy enables trusting X-Forwarded-For when resolving client
	// IPs. Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trailing proxies to skip in
	// X-Forwarded-For. Default: 1 when TrustProxy is set.
	TrustedProxyCount int

	// EnableAuditLogging turns on structured security audit events.
	// Sensitive values are hashed before logging.
	EnableAuditLogging bool

	// Instrumentation provides OpenTelemetry metrics and tracing.
	// Optional; nil disables both.
	Instrumentation *instrumentation.Instrumentation

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int
}

// Validate checks required configuration fields.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	return nil
}
