package util

import (
	"crypto/rand"
	"fmt"
)

// tokenAlphabet is the unreserved URI character set (RFC 3986 §2.3).
// Every generated credential is URL-safe without further encoding.
const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// Credential lengths used throughout the server. A 32-character string over a
// 66-character alphabet carries ~193 bits of entropy, well above the 128-bit
// floor required for bearer credentials.
const (
	ClientIDLength     = 16
	ClientSecretLength = 32
	TokenLength        = 32
	StateLength        = 16
	PKCEVerifierLength = 43
)

// RandomString returns a string of n characters drawn from tokenAlphabet
// using crypto/rand. Selection is byte-mod-alphabet; the residual bias
// (256 mod 66) is negligible for credential purposes.
//
// Panics if the system's secure random source is unavailable, matching the
// behavior of golang.org/x/oauth2's verifier generation: a server that cannot
// produce secure randomness must not mint credentials.
func RandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("util: crypto/rand unavailable: %v", err))
	}
	for i, c := range b {
		b[i] = tokenAlphabet[int(c)%len(tokenAlphabet)]
	}
	return string(b)
}

// NewClientID returns a fresh client identifier.
func NewClientID() string { return RandomString(ClientIDLength) }

// NewClientSecret returns a fresh client secret.
func NewClientSecret() string { return RandomString(ClientSecretLength) }

// NewToken returns a fresh opaque token, usable as an authorization code,
// access token, or refresh token.
func NewToken() string { return RandomString(TokenLength) }

// NewState returns a fresh state nonce for browser flows.
func NewState() string { return RandomString(StateLength) }

// NewPKCEVerifier returns a fresh PKCE code verifier of the minimum length
// permitted by RFC 7636 (43 characters).
func NewPKCEVerifier() string { return RandomString(PKCEVerifierLength) }
