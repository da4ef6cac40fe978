package oauth

import (
	"context"
	"net/http"
	"strings"

	"github.com/freemyx/oauth-provider/server"
)

type contextKey string

const bearerContextKey contextKey = "oauth.bearer"

// BearerFromContext returns the bearer validation result stored by
// RequireBearer, if any.
func BearerFromContext(ctx context.Context) (*server.BearerValidation, bool) {
	result, ok := ctx.Value(bearerContextKey).(*server.BearerValidation)
	return result, ok
}

// RequireBearer wraps a resource handler with bearer token validation. A
// missing, unknown, or expired token gets a 401 with a Bearer challenge;
// otherwise the validation result is placed on the request context for
// BearerFromContext.
func (h *Handler) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		result := h.server.ValidateBearer(r.Context(), token)
		if !result.Valid {
			w.Header().Set("WWW-Authenticate", tokenTypeBearer)
			h.writeError(w, ErrorCodeInvalidToken,
				"Missing, invalid, or expired access token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), bearerContextKey, result)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from an Authorization: Bearer header.
// Returns "" when the header is missing or malformed.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], tokenTypeBearer) {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
