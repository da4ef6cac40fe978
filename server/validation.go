package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// PKCE code challenge methods
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// VerifyPKCEChallenge reports whether verifier satisfies the stored
// challenge. For S256 the challenge must equal the unpadded base64url
// encoding of the verifier's SHA-256 digest; for plain the verifier and
// challenge must match exactly. Unknown methods never verify.
func VerifyPKCEChallenge(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" {
		return false
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain:
		computed = verifier
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// S256Challenge derives the S256 code challenge for a verifier.
func S256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// ParseScope splits a space-delimited scope string into its values.
// An empty scope parses to an empty list.
func ParseScope(scope string) []string {
	return strings.Fields(scope)
}

// FormatScope joins scope values back into the space-delimited wire form.
func FormatScope(scopes []string) string {
	return strings.Join(scopes, " ")
}
