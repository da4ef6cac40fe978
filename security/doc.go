// Package security provides security features for the OAuth server: per-IP
// rate limiting, audit logging with PII hashing, request ID propagation,
// client IP extraction behind proxies, and response security headers.
//
// The RateLimiter implements a per-identifier token bucket
// (golang.org/x/time/rate) with LRU eviction so memory stays bounded under
// distributed attacks. The Auditor emits structured security events through
// log/slog, hashing user identifiers before they reach the log stream.
package security
