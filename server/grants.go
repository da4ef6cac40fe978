package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/freemyx/oauth-provider/internal/util"
	"github.com/freemyx/oauth-provider/storage"
)

// Token-exchange URNs (RFC 8693, also defined in root package types.go)
// These are duplicated to avoid import cycles since root package imports server package
const (
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	TokenTypeAccessToken   = "urn:ietf:params:oauth:token-type:access_token"
)

// ExchangeAuthorizationCode redeems an authorization code for an access and
// refresh token pair. Presence of code and code_verifier is checked first;
// past that the code is consumed atomically before any grant validation, so
// a replayed or concurrently redeemed code fails outright and a code that
// fails validation after consumption is simply gone, which is the intended
// single-use behavior.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, client *storage.Client, code, redirectURI, codeVerifier string, clientIP string) (*oauth2.Token, string, error) {
	if code == "" {
		return nil, "", ErrInvalidRequest("code is required")
	}
	// Reject before consuming: a malformed request must not burn the code.
	if codeVerifier == "" {
		return nil, "", ErrInvalidRequest("code_verifier is required")
	}

	authCode, err := s.flowStore.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			s.Logger.Debug("Authorization code unknown or already redeemed",
				"code", util.SafeTruncate(code, 8), "client_id", client.ClientID)
			return nil, "", s.grantDenied(client.ClientID, clientIP, "code_unknown_or_replayed")
		}
		return nil, "", fmt.Errorf("failed to consume authorization code: %w", err)
	}

	if util.IsExpired(authCode.ExpiresAt) {
		return nil, "", s.grantDenied(client.ClientID, clientIP, "code_expired")
	}
	if authCode.ClientID != client.ClientID {
		return nil, "", s.grantDenied(client.ClientID, clientIP, "code_client_mismatch")
	}
	if redirectURI != "" && redirectURI != authCode.RedirectURI {
		return nil, "", s.grantDenied(client.ClientID, clientIP, "redirect_uri_mismatch")
	}
	if !VerifyPKCEChallenge(codeVerifier, authCode.CodeChallenge, authCode.CodeChallengeMethod) {
		if s.Instrumentation != nil {
			s.Instrumentation.Metrics().RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
		}
		return nil, "", s.grantDenied(client.ClientID, clientIP, "pkce_verification_failed")
	}

	access, err := s.issueAccessToken(ctx, client.ClientID, authCode.UserID, authCode.Scope)
	if err != nil {
		return nil, "", err
	}
	refresh, err := s.issueRefreshToken(ctx, client.ClientID, authCode.UserID, authCode.Scope)
	if err != nil {
		return nil, "", err
	}

	s.Logger.Info("Authorization code exchanged",
		"client_id", client.ClientID, "has_user", authCode.UserID != "")
	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(authCode.UserID, client.ClientID, clientIP, "authorization_code", authCode.Scope)
	}

	return s.tokenPair(access, refresh), authCode.Scope, nil
}

// ClientCredentialsGrant mints an access token for the client itself. No
// refresh token is issued; machine clients re-authenticate instead.
func (s *Server) ClientCredentialsGrant(ctx context.Context, client *storage.Client, requestedScope, clientIP string) (*oauth2.Token, string, error) {
	scope := requestedScope
	if scope == "" {
		scope = client.Scope
	}

	access, err := s.issueAccessToken(ctx, client.ClientID, "", scope)
	if err != nil {
		return nil, "", err
	}

	s.Logger.Info("Client credentials grant issued", "client_id", client.ClientID)
	if s.Auditor != nil {
		s.Auditor.LogTokenIssued("", client.ClientID, clientIP, "client_credentials", scope)
	}

	return s.tokenPair(access, nil), scope, nil
}

// RefreshAccessToken mints a fresh access token from a refresh token. The
// refresh token itself is neither rotated nor expired; it stays valid until
// externally revoked.
func (s *Server) RefreshAccessToken(ctx context.Context, client *storage.Client, refreshToken, requestedScope, clientIP string) (*oauth2.Token, string, error) {
	if refreshToken == "" {
		return nil, "", ErrInvalidRequest("refresh_token is required")
	}

	stored, err := s.tokenStore.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, "", s.grantDenied(client.ClientID, clientIP, "refresh_token_unknown")
		}
		return nil, "", fmt.Errorf("failed to load refresh token: %w", err)
	}
	if stored.ClientID != client.ClientID {
		return nil, "", s.grantDenied(client.ClientID, clientIP, "refresh_token_client_mismatch")
	}

	scope := requestedScope
	if scope == "" {
		scope = stored.Scope
	}

	access, err := s.issueAccessToken(ctx, client.ClientID, stored.UserID, scope)
	if err != nil {
		return nil, "", err
	}

	s.Logger.Info("Access token refreshed", "client_id", client.ClientID)
	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(stored.UserID, client.ClientID, clientIP, "refresh_token", scope)
	}

	return s.tokenPair(access, nil), scope, nil
}

// TokenExchangeRequest carries the RFC 8693 token-exchange parameters.
type TokenExchangeRequest struct {
	SubjectToken     string
	SubjectTokenType string
	SubjectIssuer    string
	Scope            string
}

// TokenExchange validates an external provider token and brokers it into
// locally issued tokens bound to the provider's user. Provider failures are
// reported as invalid_token rather than a server error: to the requesting
// client an unverifiable subject token and a bad one are the same thing.
func (s *Server) TokenExchange(ctx context.Context, client *storage.Client, req *TokenExchangeRequest, clientIP string) (*oauth2.Token, string, error) {
	if req.SubjectToken == "" || req.SubjectTokenType == "" {
		return nil, "", ErrInvalidRequest("subject_token and subject_token_type are required")
	}
	if s.provider == nil || !subjectIssuerMatches(s.provider.Name(), req.SubjectIssuer) {
		return nil, "", ErrInvalidTarget(fmt.Sprintf("unknown subject_issuer %q", req.SubjectIssuer))
	}
	if req.SubjectTokenType != TokenTypeAccessToken {
		return nil, "", ErrUnsupportedTokenType(fmt.Sprintf("unsupported subject_token_type %q", req.SubjectTokenType))
	}

	info, err := s.provider.ValidateToken(ctx, req.SubjectToken)
	if err != nil {
		s.Logger.Warn("Subject token validation failed",
			"provider", s.provider.Name(), "client_id", client.ClientID, "error", err)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", client.ClientID, clientIP, "subject_token_invalid")
		}
		return nil, "", ErrInvalidToken("subject token could not be verified")
	}

	user := &storage.User{
		UserID:          s.provider.Name() + ":" + info.ID,
		Username:        info.Username,
		Name:            info.Name,
		Email:           info.Email,
		ProfileImageURL: info.ProfileImageURL,
		Verified:        info.Verified,
		ProviderToken:   req.SubjectToken,
		UpdatedAt:       util.NowUnix(),
	}
	if err := s.userStore.SaveUser(ctx, user); err != nil {
		return nil, "", fmt.Errorf("failed to save user: %w", err)
	}

	scope := req.Scope
	if scope == "" {
		scope = s.Config.ExchangeScope
	}

	access, err := s.issueAccessToken(ctx, client.ClientID, user.UserID, scope)
	if err != nil {
		return nil, "", err
	}
	refresh, err := s.issueRefreshToken(ctx, client.ClientID, user.UserID, scope)
	if err != nil {
		return nil, "", err
	}

	s.Logger.Info("Token exchange completed",
		"client_id", client.ClientID, "provider", s.provider.Name())
	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(user.UserID, client.ClientID, clientIP, GrantTypeTokenExchange, scope)
	}

	return s.tokenPair(access, refresh), scope, nil
}

// subjectIssuerMatches reports whether issuer names the configured provider.
// "twitter" is accepted as a legacy alias for the X provider's former name;
// deployed clients still send it.
func subjectIssuerMatches(providerName, issuer string) bool {
	if issuer == providerName {
		return true
	}
	return providerName == "x" && issuer == "twitter"
}

// grantDenied logs and audits a failed redemption, then returns the uniform
// invalid_grant error so callers learn nothing about why.
func (s *Server) grantDenied(clientID, clientIP, reason string) error {
	s.Logger.Warn("Grant denied", "client_id", clientID, "reason", reason)
	if s.Auditor != nil {
		s.Auditor.LogAuthFailure("", clientID, clientIP, reason)
	}
	return ErrInvalidGrant("Authorization grant is invalid or expired")
}

// tokenPair assembles the oauth2.Token handed back to the transport layer.
func (s *Server) tokenPair(access *storage.AccessToken, refresh *storage.RefreshToken) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: access.Token,
		TokenType:   access.TokenType,
		Expiry:      time.Unix(access.ExpiresAt, 0),
		ExpiresIn:   s.accessTokenExpiresIn(),
	}
	if refresh != nil {
		tok.RefreshToken = refresh.Token
	}
	return tok
}
