package server

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/freemyx/oauth-provider/internal/util"
	"github.com/freemyx/oauth-provider/storage"
)

// Token endpoint authentication method constants (RFC 7591)
const (
	// TokenEndpointAuthMethodNone represents no authentication (public clients)
	TokenEndpointAuthMethodNone = "none"

	// TokenEndpointAuthMethodBasic represents HTTP Basic authentication
	TokenEndpointAuthMethodBasic = "client_secret_basic"

	// TokenEndpointAuthMethodPost represents POST form parameters
	TokenEndpointAuthMethodPost = "client_secret_post"
)

// RegistrationParams carries the caller-supplied metadata for dynamic client
// registration. Every field is optional; defaults follow RFC 7591.
type RegistrationParams struct {
	RedirectURIs            []string
	TokenEndpointAuthMethod string
	GrantTypes              []string
	ResponseTypes           []string
	ClientName              string
	Scope                   string
}

// RegisterClient registers a new OAuth client and returns the stored record
// together with the plaintext client secret. The secret is returned exactly
// once; only its bcrypt hash is persisted. Public clients (auth method
// "none") receive no secret.
//
// Registration metadata is accepted as-is: redirect URI schemes are not
// policed here, matching the open registration posture of the deployment
// this server fronts.
func (s *Server) RegisterClient(ctx context.Context, params *RegistrationParams, clientIP string) (*storage.Client, string, error) {
	if params == nil {
		params = &RegistrationParams{}
	}

	authMethod := params.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = TokenEndpointAuthMethodBasic
	}
	switch authMethod {
	case TokenEndpointAuthMethodNone, TokenEndpointAuthMethodBasic, TokenEndpointAuthMethodPost:
	default:
		return nil, "", ErrInvalidRequest(fmt.Sprintf("unsupported token_endpoint_auth_method %q", authMethod))
	}

	grantTypes := params.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code"}
	}
	responseTypes := params.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}

	var clientSecret, clientSecretHash string
	if authMethod != TokenEndpointAuthMethodNone {
		clientSecret = util.NewClientSecret()
		hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", fmt.Errorf("failed to hash client secret: %w", err)
		}
		clientSecretHash = string(hash)
	}

	client := &storage.Client{
		ClientID:                util.NewClientID(),
		ClientSecretHash:        clientSecretHash,
		RedirectURIs:            params.RedirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: authMethod,
		ClientName:              params.ClientName,
		Scope:                   params.Scope,
		ClientIDIssuedAt:        util.NowUnix(),
		ClientSecretExpiresAt:   0,
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.Logger.Info("Client registered",
		"client_id", client.ClientID,
		"auth_method", authMethod,
		"redirect_uris", len(client.RedirectURIs))
	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(client.ClientID, authMethod, clientIP)
	}

	return client, clientSecret, nil
}

// AuthenticateClient resolves and authenticates a client from the supplied
// credentials. Public clients authenticate by client_id alone; confidential
// clients must present their secret. Every failure mode collapses to the
// same invalid_client error so callers cannot probe for registered IDs.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret, clientIP string) (*storage.Client, error) {
	fail := func(reason string) (*storage.Client, error) {
		s.Logger.Warn("Client authentication failed",
			"client_id", clientID, "ip", clientIP, "reason", reason)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, clientIP, reason)
		}
		return nil, ErrInvalidClient("Client authentication failed")
	}

	if clientID == "" {
		return fail("missing_client_id")
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return fail("unknown_client")
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	if client.IsPublic() {
		return client, nil
	}

	if clientSecret == "" {
		return fail("missing_client_secret")
	}
	if bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)) != nil {
		return fail("secret_mismatch")
	}

	return client, nil
}

// GetClient fetches a client registration by ID.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clientStore.GetClient(ctx, clientID)
}
