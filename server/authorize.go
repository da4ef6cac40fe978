package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/freemyx/oauth-provider/internal/util"
	"github.com/freemyx/oauth-provider/storage"
)

// AuthorizeRequest carries the query parameters of an authorization request.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Authorize runs the authorization endpoint state machine: validate the
// request, mint an authorization code, and return the redirect target
// carrying code, echoed state, and iss. Failures return an *Error that the
// transport layer renders as a JSON body, not an error redirect.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest, clientIP string) (string, error) {
	if req.ResponseType != "code" {
		return "", NewError(ErrorCodeUnsupportedResponseType,
			fmt.Sprintf("response_type %q is not supported", req.ResponseType), http.StatusBadRequest)
	}
	if req.ClientID == "" {
		return "", ErrInvalidRequest("client_id is required")
	}
	if req.CodeChallenge == "" {
		return "", ErrInvalidRequest("code_challenge is required")
	}

	client, err := s.clientStore.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			// Authorization endpoint errors are JSON 400s, including this one.
			return "", NewError(ErrorCodeInvalidClient, "unknown client", http.StatusBadRequest)
		}
		return "", fmt.Errorf("failed to load client: %w", err)
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		if len(client.RedirectURIs) == 0 {
			return "", ErrInvalidRequest("client has no registered redirect URIs")
		}
		redirectURI = client.RedirectURIs[0]
	}
	if !client.HasRedirectURI(redirectURI) {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", client.ClientID, clientIP, "redirect_uri_not_registered")
		}
		return "", ErrInvalidRequest("redirect_uri is not registered for this client")
	}

	method := req.CodeChallengeMethod
	if method == "" {
		method = PKCEMethodPlain
	}

	code := &storage.AuthorizationCode{
		Code:                util.NewToken(),
		ClientID:            client.ClientID,
		RedirectURI:         redirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           util.NowUnix() + int64(s.Config.AuthorizationCodeTTL.Seconds()),
	}
	if err := s.flowStore.SaveAuthorizationCode(ctx, code, s.Config.AuthorizationCodeTTL); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.Logger.Debug("Authorization code issued",
		"client_id", client.ClientID,
		"code", util.SafeTruncate(code.Code, 8),
		"pkce_method", method)
	if s.Auditor != nil {
		s.Auditor.LogCodeIssued("", client.ClientID, clientIP)
	}

	return buildRedirect(redirectURI, map[string]string{
		"code":  code.Code,
		"state": req.State,
		"iss":   s.Config.Issuer,
	})
}

// buildRedirect appends query parameters to a redirect target, skipping
// empty values.
func buildRedirect(target string, params map[string]string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", ErrInvalidRequest("redirect_uri is not a valid URL")
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
