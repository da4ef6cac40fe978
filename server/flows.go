package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/freemyx/oauth-provider/internal/util"
	"github.com/freemyx/oauth-provider/storage"
)

// Placeholder PKCE challenge carried by authorization codes minted server-side
// after a provider callback. The code is born on this server, not supplied by
// the user agent, so no client-held verifier exists for it; redeemers present
// the placeholder itself. Kept deliberately for wire compatibility with
// existing clients of the deployment this server replaces.
const (
	callbackCodeChallenge = "dummy"
	callbackCodeMethod    = PKCEMethodPlain
)

// StartLogin begins the browser login flow: it mints a PKCE pair and state
// nonce, persists them, and returns the external provider's authorization
// URL to redirect the user agent to. clientID and redirectURI identify the
// downstream client that will redeem the code minted by the callback.
func (s *Server) StartLogin(ctx context.Context, clientID, redirectURI, clientIP string) (string, error) {
	if s.provider == nil {
		return "", ErrServerError("no identity provider configured")
	}
	if clientID == "" {
		return "", ErrInvalidRequest("client_id is required")
	}
	if redirectURI == "" {
		return "", ErrInvalidRequest("redirect_uri is required")
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return "", ErrInvalidRequest("unknown client")
		}
		return "", fmt.Errorf("failed to load client: %w", err)
	}
	if !client.HasRedirectURI(redirectURI) {
		return "", ErrInvalidRequest("redirect_uri is not registered for this client")
	}

	verifier := util.NewPKCEVerifier()
	state := util.NewState()
	now := util.NowUnix()

	record := &storage.LoginState{
		State:        state,
		CodeVerifier: verifier,
		ClientID:     client.ClientID,
		RedirectURI:  redirectURI,
		CreatedAt:    now,
		ExpiresAt:    now + int64(s.Config.LoginStateTTL.Seconds()),
	}
	if err := s.flowStore.SaveLoginState(ctx, record, s.Config.LoginStateTTL); err != nil {
		return "", fmt.Errorf("failed to save login state: %w", err)
	}

	s.Logger.Debug("Login flow started",
		"client_id", client.ClientID, "provider", s.provider.Name())
	if s.Auditor != nil {
		s.Auditor.LogLoginStarted(client.ClientID, clientIP)
	}

	return s.provider.AuthorizationURL(state, S256Challenge(verifier), PKCEMethodS256), nil
}

// HandleCallback completes the browser login flow after the external
// provider redirects back. It consumes the stored login state, exchanges the
// provider's code, validates the resulting provider token, upserts the user,
// mints a local authorization code pre-bound to that user, and returns the
// downstream redirect target carrying the code and echoed state.
//
// An unknown or expired state is the caller's fault (invalid_request); every
// failure past that point is a dependency fault and surfaces as a 500
// server_error, the one path in this core that does.
func (s *Server) HandleCallback(ctx context.Context, state, code, clientIP string) (string, error) {
	if s.provider == nil {
		return "", ErrServerError("no identity provider configured")
	}
	if state == "" || code == "" {
		return "", ErrInvalidRequest("state and code are required")
	}

	login, err := s.flowStore.ConsumeLoginState(ctx, state)
	if err != nil {
		if errors.Is(err, storage.ErrStateNotFound) {
			s.callbackFailed(clientIP, "state_unknown_or_expired")
			return "", ErrInvalidRequest("unknown or expired state")
		}
		return "", fmt.Errorf("failed to consume login state: %w", err)
	}
	if util.IsExpired(login.ExpiresAt) {
		s.callbackFailed(clientIP, "state_expired")
		return "", ErrInvalidRequest("unknown or expired state")
	}

	providerToken, err := s.provider.ExchangeCode(ctx, code, login.CodeVerifier)
	if err != nil {
		s.Logger.Error("Provider code exchange failed",
			"provider", s.provider.Name(), "error", err)
		s.callbackFailed(clientIP, "provider_exchange_failed")
		return "", ErrServerError("identity provider exchange failed")
	}

	info, err := s.provider.ValidateToken(ctx, providerToken.AccessToken)
	if err != nil {
		s.Logger.Error("Provider token validation failed",
			"provider", s.provider.Name(), "error", err)
		s.callbackFailed(clientIP, "provider_validation_failed")
		return "", ErrServerError("identity provider validation failed")
	}

	user := &storage.User{
		UserID:          s.provider.Name() + ":" + info.ID,
		Username:        info.Username,
		Name:            info.Name,
		Email:           info.Email,
		ProfileImageURL: info.ProfileImageURL,
		Verified:        info.Verified,
		ProviderToken:   providerToken.AccessToken,
		UpdatedAt:       util.NowUnix(),
	}
	if err := s.userStore.SaveUser(ctx, user); err != nil {
		s.callbackFailed(clientIP, "user_save_failed")
		return "", fmt.Errorf("failed to save user: %w", err)
	}

	authCode := &storage.AuthorizationCode{
		Code:                util.NewToken(),
		ClientID:            login.ClientID,
		RedirectURI:         login.RedirectURI,
		Scope:               s.Config.ExchangeScope,
		CodeChallenge:       callbackCodeChallenge,
		CodeChallengeMethod: callbackCodeMethod,
		UserID:              user.UserID,
		ExpiresAt:           util.NowUnix() + int64(s.Config.AuthorizationCodeTTL.Seconds()),
	}
	if err := s.flowStore.SaveAuthorizationCode(ctx, authCode, s.Config.AuthorizationCodeTTL); err != nil {
		s.callbackFailed(clientIP, "code_save_failed")
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.Logger.Info("Callback completed",
		"client_id", login.ClientID, "provider", s.provider.Name())
	if s.Auditor != nil {
		s.Auditor.LogCodeIssued(user.UserID, login.ClientID, clientIP)
	}

	return buildRedirect(login.RedirectURI, map[string]string{
		"code":  authCode.Code,
		"state": state,
	})
}

func (s *Server) callbackFailed(clientIP, reason string) {
	if s.Auditor != nil {
		s.Auditor.LogCallbackFailure(clientIP, reason)
	}
}
