package security

// Event type constants for security audit logging. Constants keep event names
// consistent across the codebase and queryable downstream.
const (
	// EventTokenIssued is logged when a grant handler issues tokens
	EventTokenIssued = "token_issued"

	// EventCodeIssued is logged when an authorization code is minted
	EventCodeIssued = "authorization_code_issued"

	// EventCodeReplayed is logged when a consumed or unknown code is presented
	EventCodeReplayed = "authorization_code_replayed"

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventPKCEValidationFailed is logged when PKCE verification fails
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventLoginStarted is logged when a browser login flow starts
	EventLoginStarted = "login_started"

	// EventCallbackFailed is logged when a provider callback fails
	EventCallbackFailed = "callback_failed"

	// EventInvalidRedirect is logged when an unregistered redirect URI is used
	EventInvalidRedirect = "invalid_redirect"
)
