package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/freemyx/oauth-provider/internal/testutil"
	"github.com/freemyx/oauth-provider/providers"
	"github.com/freemyx/oauth-provider/providers/mock"
	"github.com/freemyx/oauth-provider/storage/memory"
)

const testIssuer = "https://auth.example.com"

func setupTestHandler(t *testing.T) (*Handler, *mock.Provider, *memory.Store) {
	t.Helper()

	store := memory.NewWithInterval(0)
	t.Cleanup(func() { _ = store.Close() })

	provider := mock.New()

	handler, err := New(&Config{
		Issuer:   testIssuer,
		Store:    store,
		Provider: provider,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return handler, provider, store
}

// registerClient registers a client over HTTP and returns the response.
func registerClient(t *testing.T, handler *Handler, req ClientRegistrationRequest) ClientRegistrationResponse {
	t.Helper()

	body, err := json.Marshal(req)
	testutil.AssertNoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeClientRegistration(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp ClientRegistrationResponse
	testutil.AssertNoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

// authorize drives the authorization endpoint and returns the code from the
// Location header.
func authorize(t *testing.T, handler *Handler, clientID, redirectURI, challenge, method, state string) string {
	t.Helper()

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", method)
	q.Set("state", state)

	r := httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	handler.ServeAuthorization(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, body = %s", w.Code, w.Body.String())
	}

	loc, err := url.Parse(w.Header().Get("Location"))
	testutil.AssertNoError(t, err)

	if got := loc.Query().Get("state"); got != state {
		t.Errorf("state = %q, want %q", got, state)
	}
	if got := loc.Query().Get("iss"); got != testIssuer {
		t.Errorf("iss = %q, want %q", got, testIssuer)
	}

	code := loc.Query().Get("code")
	if code == "" {
		t.Fatal("redirect carries no code")
	}
	return code
}

// postToken posts a form to the token endpoint and decodes the response.
func postToken(t *testing.T, handler *Handler, form url.Values, basicAuth ...string) (int, TokenResponse, ErrorResponse) {
	t.Helper()

	r := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if len(basicAuth) == 2 {
		r.SetBasicAuth(basicAuth[0], basicAuth[1])
	}
	w := httptest.NewRecorder()
	handler.ServeToken(w, r)

	var tok TokenResponse
	var oauthErr ErrorResponse
	if w.Code == http.StatusOK {
		testutil.AssertNoError(t, json.NewDecoder(w.Body).Decode(&tok))
	} else {
		_ = json.NewDecoder(w.Body).Decode(&oauthErr)
	}
	return w.Code, tok, oauthErr
}

func TestNew_Validation(t *testing.T) {
	store := memory.NewWithInterval(0)
	defer func() { _ = store.Close() }()

	tests := []struct {
		name   string
		config *Config
	}{
		{"nil config", nil},
		{"missing issuer", &Config{Store: store}},
		{"missing store", &Config{Issuer: testIssuer}},
		{"negative rate", &Config{Issuer: testIssuer, Store: store, RateLimit: RateLimitConfig{Rate: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			testutil.AssertError(t, err)
		})
	}
}

func TestHandler_ServeAuthorizationServerMetadata(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	w := httptest.NewRecorder()
	handler.ServeAuthorizationServerMetadata(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var meta AuthorizationServerMetadata
	testutil.AssertNoError(t, json.NewDecoder(w.Body).Decode(&meta))

	if meta.Issuer != testIssuer {
		t.Errorf("Issuer = %q, want %q", meta.Issuer, testIssuer)
	}
	if meta.AuthorizationEndpoint != testIssuer+"/authorize" {
		t.Errorf("AuthorizationEndpoint = %q", meta.AuthorizationEndpoint)
	}
	if meta.TokenEndpoint != testIssuer+"/token" {
		t.Errorf("TokenEndpoint = %q", meta.TokenEndpoint)
	}
	if meta.RegistrationEndpoint != testIssuer+"/register" {
		t.Errorf("RegistrationEndpoint = %q", meta.RegistrationEndpoint)
	}
	if len(meta.GrantTypesSupported) != 4 {
		t.Errorf("GrantTypesSupported = %v, want 4 entries", meta.GrantTypesSupported)
	}
	wantMethods := []string{"S256", "plain"}
	if len(meta.CodeChallengeMethodsSupported) != len(wantMethods) {
		t.Errorf("CodeChallengeMethodsSupported = %v, want %v", meta.CodeChallengeMethodsSupported, wantMethods)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	handler, _, _ := setupTestHandler(t)
	routes := handler.Routes()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/.well-known/oauth-authorization-server"},
		{http.MethodPost, "/authorize"},
		{http.MethodGet, "/token"},
		{http.MethodGet, "/register"},
		{http.MethodPost, "/login"},
		{http.MethodPost, "/callback"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			routes.ServeHTTP(w, r)

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
			}
		})
	}
}

func TestHandler_RegistrationDefaults(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	// Empty body: every field defaulted
	r := httptest.NewRequest(http.MethodPost, "/register", nil)
	w := httptest.NewRecorder()
	handler.ServeClientRegistration(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp ClientRegistrationResponse
	testutil.AssertNoError(t, json.NewDecoder(w.Body).Decode(&resp))

	if len(resp.ClientID) != 16 {
		t.Errorf("client_id length = %d, want 16", len(resp.ClientID))
	}
	if len(resp.ClientSecret) != 32 {
		t.Errorf("client_secret length = %d, want 32", len(resp.ClientSecret))
	}
	if resp.TokenEndpointAuthMethod != "client_secret_basic" {
		t.Errorf("token_endpoint_auth_method = %q, want client_secret_basic", resp.TokenEndpointAuthMethod)
	}
	if len(resp.GrantTypes) != 1 || resp.GrantTypes[0] != GrantTypeAuthorizationCode {
		t.Errorf("grant_types = %v, want [authorization_code]", resp.GrantTypes)
	}
	if len(resp.ResponseTypes) != 1 || resp.ResponseTypes[0] != "code" {
		t.Errorf("response_types = %v, want [code]", resp.ResponseTypes)
	}
	if resp.ClientSecretExpiresAt != 0 {
		t.Errorf("client_secret_expires_at = %d, want 0", resp.ClientSecretExpiresAt)
	}
	if resp.ClientIDIssuedAt == 0 {
		t.Error("client_id_issued_at not set")
	}
}

func TestHandler_RegistrationPublicClient(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	resp := registerClient(t, handler, ClientRegistrationRequest{
		RedirectURIs:            []string{"https://app.example/cb"},
		TokenEndpointAuthMethod: "none",
	})

	if resp.ClientSecret != "" {
		t.Errorf("public client got secret %q", resp.ClientSecret)
	}
	if resp.TokenEndpointAuthMethod != "none" {
		t.Errorf("token_endpoint_auth_method = %q, want none", resp.TokenEndpointAuthMethod)
	}
}

func TestHandler_RegistrationMalformedBody(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	handler.ServeClientRegistration(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandler_AuthorizationCodeFlow(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	client := registerClient(t, handler, ClientRegistrationRequest{
		RedirectURIs:            []string{"https://app.example/cb"},
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
	})

	verifier, challenge := testutil.GeneratePKCEPair()
	code := authorize(t, handler, client.ClientID, "https://app.example/cb", challenge, "S256", "xyz")

	form := url.Values{}
	form.Set("grant_type", GrantTypeAuthorizationCode)
	form.Set("client_id", client.ClientID)
	form.Set("code", code)
	form.Set("redirect_uri", "https://app.example/cb")
	form.Set("code_verifier", verifier)

	status, tok, _ := postToken(t, handler, form)
	if status != http.StatusOK {
		t.Fatalf("token status = %d", status)
	}
	if tok.AccessToken == "" {
		t.Error("access_token is empty")
	}
	if tok.RefreshToken == "" {
		t.Error("refresh_token is empty")
	}
	if tok.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", tok.TokenType)
	}
	if tok.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", tok.ExpiresIn)
	}

	// Replay of the same code is rejected
	status, _, oauthErr := postToken(t, handler, form)
	if status != http.StatusBadRequest {
		t.Errorf("replay status = %d, want %d", status, http.StatusBadRequest)
	}
	if oauthErr.Error != ErrorCodeInvalidGrant {
		t.Errorf("replay error = %q, want %q", oauthErr.Error, ErrorCodeInvalidGrant)
	}

	// The refresh token works repeatedly: no rotation
	for i := 0; i < 2; i++ {
		refreshForm := url.Values{}
		refreshForm.Set("grant_type", GrantTypeRefreshToken)
		refreshForm.Set("client_id", client.ClientID)
		refreshForm.Set("refresh_token", tok.RefreshToken)

		status, refreshed, _ := postToken(t, handler, refreshForm)
		if status != http.StatusOK {
			t.Fatalf("refresh %d status = %d", i, status)
		}
		if refreshed.AccessToken == "" || refreshed.AccessToken == tok.AccessToken {
			t.Errorf("refresh %d access_token = %q, want fresh token", i, refreshed.AccessToken)
		}
		if refreshed.RefreshToken != "" {
			t.Errorf("refresh %d returned refresh_token %q, rotation is not expected", i, refreshed.RefreshToken)
		}
	}
}

func TestHandler_AuthorizeValidationErrors(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	client := registerClient(t, handler, ClientRegistrationRequest{
		RedirectURIs:            []string{"https://app.example/cb"},
		TokenEndpointAuthMethod: "none",
	})

	tests := []struct {
		name      string
		query     url.Values
		wantError string
	}{
		{
			name:      "missing response_type",
			query:     url.Values{"client_id": {client.ClientID}, "code_challenge": {"c"}},
			wantError: ErrorCodeUnsupportedResponseType,
		},
		{
			name:      "missing client_id",
			query:     url.Values{"response_type": {"code"}, "code_challenge": {"c"}},
			wantError: ErrorCodeInvalidRequest,
		},
		{
			name:      "missing code_challenge",
			query:     url.Values{"response_type": {"code"}, "client_id": {client.ClientID}},
			wantError: ErrorCodeInvalidRequest,
		},
		{
			name:      "unknown client",
			query:     url.Values{"response_type": {"code"}, "client_id": {"nope"}, "code_challenge": {"c"}},
			wantError: ErrorCodeInvalidClient,
		},
		{
			name: "unregistered redirect",
			query: url.Values{
				"response_type":  {"code"},
				"client_id":      {client.ClientID},
				"redirect_uri":   {"https://evil.example/cb"},
				"code_challenge": {"c"},
			},
			wantError: ErrorCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/authorize?"+tt.query.Encode(), nil)
			w := httptest.NewRecorder()
			handler.ServeAuthorization(w, r)

			// Authorization endpoint errors are JSON 400s, never redirects
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			var resp ErrorResponse
			testutil.AssertNoError(t, json.NewDecoder(w.Body).Decode(&resp))
			if resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
		})
	}
}

func TestHandler_ClientCredentials(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	client := registerClient(t, handler, ClientRegistrationRequest{
		TokenEndpointAuthMethod: "client_secret_basic",
		GrantTypes:              []string{GrantTypeClientCredentials},
		Scope:                   "read",
	})

	form := url.Values{}
	form.Set("grant_type", GrantTypeClientCredentials)

	status, tok, _ := postToken(t, handler, form, client.ClientID, client.ClientSecret)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if tok.AccessToken == "" {
		t.Error("access_token is empty")
	}
	if tok.RefreshToken != "" {
		t.Errorf("client_credentials returned refresh_token %q", tok.RefreshToken)
	}
	if tok.Scope != "read" {
		t.Errorf("scope = %q, want registered default", tok.Scope)
	}
}

func TestHandler_ClientCredentialsPostAuth(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	client := registerClient(t, handler, ClientRegistrationRequest{
		TokenEndpointAuthMethod: "client_secret_post",
		GrantTypes:              []string{GrantTypeClientCredentials},
	})

	form := url.Values{}
	form.Set("grant_type", GrantTypeClientCredentials)
	form.Set("client_id", client.ClientID)
	form.Set("client_secret", client.ClientSecret)

	status, tok, _ := postToken(t, handler, form)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if tok.AccessToken == "" {
		t.Error("access_token is empty")
	}
}

func TestHandler_InvalidClientAuth(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	client := registerClient(t, handler, ClientRegistrationRequest{
		TokenEndpointAuthMethod: "client_secret_basic",
		GrantTypes:              []string{GrantTypeClientCredentials},
	})

	form := url.Values{}
	form.Set("grant_type", GrantTypeClientCredentials)

	r := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetBasicAuth(client.ClientID, "wrong-secret")
	w := httptest.NewRecorder()
	handler.ServeToken(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != "Basic" {
		t.Errorf("WWW-Authenticate = %q, want Basic", got)
	}
	var resp ErrorResponse
	testutil.AssertNoError(t, json.NewDecoder(w.Body).Decode(&resp))
	if resp.Error != ErrorCodeInvalidClient {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidClient)
	}
}

func TestHandler_GrantGating(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	// Registered for authorization_code only
	client := registerClient(t, handler, ClientRegistrationRequest{
		RedirectURIs:            []string{"https://app.example/cb"},
		TokenEndpointAuthMethod: "none",
	})

	form := url.Values{}
	form.Set("grant_type", GrantTypeClientCredentials)
	form.Set("client_id", client.ClientID)

	status, _, oauthErr := postToken(t, handler, form)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", status, http.StatusBadRequest)
	}
	if oauthErr.Error != ErrorCodeUnauthorizedClient {
		t.Errorf("error = %q, want %q", oauthErr.Error, ErrorCodeUnauthorizedClient)
	}
}

func TestHandler_UnsupportedGrantType(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	client := registerClient(t, handler, ClientRegistrationRequest{
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"password"},
	})

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", client.ClientID)

	status, _, oauthErr := postToken(t, handler, form)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", status, http.StatusBadRequest)
	}
	if oauthErr.Error != ErrorCodeUnsupportedGrantType {
		t.Errorf("error = %q, want %q", oauthErr.Error, ErrorCodeUnsupportedGrantType)
	}
}

func TestHandler_TokenExchange(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	client := registerClient(t, handler, ClientRegistrationRequest{
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{GrantTypeTokenExchange},
	})

	form := url.Values{}
	form.Set("grant_type", GrantTypeTokenExchange)
	form.Set("client_id", client.ClientID)
	form.Set("subject_token", "provider-access-token")
	form.Set("subject_token_type", TokenTypeAccessToken)
	form.Set("subject_issuer", "x")

	status, tok, _ := postToken(t, handler, form)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if tok.AccessToken == "" {
		t.Error("access_token is empty")
	}
	if tok.IssuedTokenType != TokenTypeAccessToken {
		t.Errorf("issued_token_type = %q, want %q", tok.IssuedTokenType, TokenTypeAccessToken)
	}
	if tok.Scope != "read profile" {
		t.Errorf("scope = %q, want default exchange scope", tok.Scope)
	}
}

func TestHandler_TokenExchangeFailures(t *testing.T) {
	handler, provider, _ := setupTestHandler(t)

	client := registerClient(t, handler, ClientRegistrationRequest{
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{GrantTypeTokenExchange},
	})

	baseForm := func() url.Values {
		form := url.Values{}
		form.Set("grant_type", GrantTypeTokenExchange)
		form.Set("client_id", client.ClientID)
		form.Set("subject_token", "provider-access-token")
		form.Set("subject_token_type", TokenTypeAccessToken)
		form.Set("subject_issuer", "x")
		return form
	}

	t.Run("unknown issuer", func(t *testing.T) {
		form := baseForm()
		form.Set("subject_issuer", "github")

		status, _, oauthErr := postToken(t, handler, form)
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", status, http.StatusBadRequest)
		}
		if oauthErr.Error != ErrorCodeInvalidTarget {
			t.Errorf("error = %q, want %q", oauthErr.Error, ErrorCodeInvalidTarget)
		}
	})

	t.Run("wrong subject_token_type", func(t *testing.T) {
		form := baseForm()
		form.Set("subject_token_type", "urn:ietf:params:oauth:token-type:jwt")

		status, _, oauthErr := postToken(t, handler, form)
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", status, http.StatusBadRequest)
		}
		if oauthErr.Error != ErrorCodeUnsupportedTokenType {
			t.Errorf("error = %q, want %q", oauthErr.Error, ErrorCodeUnsupportedTokenType)
		}
	})

	t.Run("provider rejects subject token", func(t *testing.T) {
		provider.ValidateTokenFunc = func(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
			return nil, errors.New("provider returned status 401")
		}

		status, _, oauthErr := postToken(t, handler, baseForm())
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", status, http.StatusBadRequest)
		}
		if oauthErr.Error != ErrorCodeInvalidToken {
			t.Errorf("error = %q, want %q", oauthErr.Error, ErrorCodeInvalidToken)
		}
	})
}

func TestHandler_LoginCallbackFlow(t *testing.T) {
	handler, provider, _ := setupTestHandler(t)

	client := registerClient(t, handler, ClientRegistrationRequest{
		RedirectURIs:            []string{"https://app.example/cb"},
		TokenEndpointAuthMethod: "none",
	})

	// Start the login flow; the provider redirect carries our state
	q := url.Values{}
	q.Set("client_id", client.ClientID)
	q.Set("redirect_uri", "https://app.example/cb")

	r := httptest.NewRequest(http.MethodGet, "/login?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	handler.ServeLogin(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}

	testutil.AssertStringContains(t, w.Header().Get("Location"), "https://provider.example/authorize")
	loc, err := url.Parse(w.Header().Get("Location"))
	testutil.AssertNoError(t, err)
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("provider redirect carries no state")
	}
	if provider.Calls("AuthorizationURL") != 1 {
		t.Errorf("AuthorizationURL calls = %d, want 1", provider.Calls("AuthorizationURL"))
	}

	// Provider redirects back; the callback mints a code for the client
	cb := url.Values{}
	cb.Set("state", state)
	cb.Set("code", "provider-code")

	r = httptest.NewRequest(http.MethodGet, "/callback?"+cb.Encode(), nil)
	w = httptest.NewRecorder()
	handler.ServeCallback(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("callback status = %d, body = %s", w.Code, w.Body.String())
	}

	loc, err = url.Parse(w.Header().Get("Location"))
	testutil.AssertNoError(t, err)
	if got := loc.Scheme + "://" + loc.Host + loc.Path; got != "https://app.example/cb" {
		t.Errorf("callback redirect target = %q", got)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatal("callback redirect carries no code")
	}

	// The minted code is redeemable with the fixed verifier
	form := url.Values{}
	form.Set("grant_type", GrantTypeAuthorizationCode)
	form.Set("client_id", client.ClientID)
	form.Set("code", code)
	form.Set("redirect_uri", "https://app.example/cb")
	form.Set("code_verifier", "dummy")

	status, tok, _ := postToken(t, handler, form)
	if status != http.StatusOK {
		t.Fatalf("token status = %d", status)
	}
	if tok.AccessToken == "" {
		t.Error("access_token is empty")
	}
}

func TestHandler_CallbackErrors(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	t.Run("provider error parameter", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/callback?error=access_denied", nil)
		w := httptest.NewRecorder()
		handler.ServeCallback(w, r)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		var resp ErrorResponse
		testutil.AssertNoError(t, json.NewDecoder(w.Body).Decode(&resp))
		if resp.Error != ErrorCodeServerError {
			t.Errorf("error = %q, want %q", resp.Error, ErrorCodeServerError)
		}
	})

	t.Run("unknown state", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/callback?state=nope&code=x", nil)
		w := httptest.NewRecorder()
		handler.ServeCallback(w, r)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestHandler_RateLimit(t *testing.T) {
	store := memory.NewWithInterval(0)
	defer func() { _ = store.Close() }()

	handler, err := New(&Config{
		Issuer:    testIssuer,
		Store:     store,
		Provider:  mock.New(),
		RateLimit: RateLimitConfig{Rate: 1, Burst: 1},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	testutil.AssertNoError(t, err)

	target := "/.well-known/oauth-authorization-server"

	// Metadata is not rate limited; the token endpoint is
	r := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	handler.ServeAuthorizationServerMetadata(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("metadata status = %d", w.Code)
	}

	form := url.Values{}
	form.Set("grant_type", GrantTypeClientCredentials)

	var lastStatus int
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		handler.ServeToken(w, r)
		lastStatus = w.Code
	}

	if lastStatus != http.StatusTooManyRequests {
		t.Errorf("status after burst = %d, want %d", lastStatus, http.StatusTooManyRequests)
	}
}

func TestRequireBearer(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	client := registerClient(t, handler, ClientRegistrationRequest{
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{GrantTypeClientCredentials},
		Scope:                   "read",
	})

	form := url.Values{}
	form.Set("grant_type", GrantTypeClientCredentials)
	form.Set("client_id", client.ClientID)

	status, tok, _ := postToken(t, handler, form)
	if status != http.StatusOK {
		t.Fatalf("token status = %d", status)
	}

	var gotResult bool
	protected := handler.RequireBearer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, ok := BearerFromContext(r.Context())
		gotResult = ok && result.Valid && result.Client != nil
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/resource", nil)
		r.Header.Set("Authorization", "Bearer "+tok.AccessToken)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, r)

		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
		if !gotResult {
			t.Error("bearer validation result missing from context")
		}
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/resource", nil)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if got := w.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Errorf("WWW-Authenticate = %q, want Bearer", got)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/resource", nil)
		r.Header.Set("Authorization", "Bearer not-a-token")
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestHandler_RequestID(t *testing.T) {
	handler, _, _ := setupTestHandler(t)
	routes := handler.Routes()

	r := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, r)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}
