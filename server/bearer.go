package server

import (
	"context"

	"github.com/freemyx/oauth-provider/internal/util"
	"github.com/freemyx/oauth-provider/storage"
)

// BearerValidation is the result of resolving a bearer token. When Valid,
// Token is always set; User and Client are best-effort enrichments and may
// be nil even for a valid token, so resource servers must treat them as
// optional.
type BearerValidation struct {
	Valid  bool
	Token  *storage.AccessToken
	User   *storage.User
	Client *storage.Client
}

// ValidateBearer resolves an access token string to its stored state. A
// missing, unknown, or expired token yields Valid=false; enrichment lookup
// failures degrade the corresponding field to nil instead of invalidating
// the token.
func (s *Server) ValidateBearer(ctx context.Context, token string) *BearerValidation {
	if token == "" {
		return &BearerValidation{}
	}

	stored, err := s.tokenStore.GetAccessToken(ctx, token)
	if err != nil {
		return &BearerValidation{}
	}
	if util.IsExpired(stored.ExpiresAt) {
		return &BearerValidation{}
	}

	result := &BearerValidation{Valid: true, Token: stored}

	if stored.UserID != "" {
		if user, err := s.userStore.GetUser(ctx, stored.UserID); err == nil {
			result.User = user
		}
	}
	if client, err := s.clientStore.GetClient(ctx, stored.ClientID); err == nil {
		result.Client = client
	}

	return result
}
