package x

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "https://auth.example/callback",
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return provider
}

func TestNewProviderValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"valid", &Config{ClientID: "id", ClientSecret: "secret"}, false},
		{"missing client ID", &Config{ClientSecret: "secret"}, true},
		{"missing client secret", &Config{ClientID: "id"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProviderName(t *testing.T) {
	if got := newTestProvider(t).Name(); got != "x" {
		t.Errorf("Name() = %q, want %q", got, "x")
	}
}

func TestAuthorizationURL(t *testing.T) {
	provider := newTestProvider(t)

	rawURL := provider.AuthorizationURL("test-state", "test-challenge", "S256")
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("AuthorizationURL() returned unparseable URL: %v", err)
	}

	if u.Host != "x.com" {
		t.Errorf("host = %q, want x.com", u.Host)
	}
	q := u.Query()
	if q.Get("state") != "test-state" {
		t.Errorf("state = %q", q.Get("state"))
	}
	if q.Get("code_challenge") != "test-challenge" {
		t.Errorf("code_challenge = %q", q.Get("code_challenge"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q", q.Get("code_challenge_method"))
	}
	if !strings.Contains(q.Get("scope"), "users.read") {
		t.Errorf("scope = %q, want users.read included", q.Get("scope"))
	}
}

func TestExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// X requires Basic client authentication at the token endpoint.
		user, _, ok := r.BasicAuth()
		if !ok || user != "test-client-id" {
			http.Error(w, "missing basic auth", http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}
		if r.FormValue("code") != "test-code" {
			http.Error(w, "invalid code", http.StatusBadRequest)
			return
		}
		if r.FormValue("code_verifier") != "test-verifier" {
			http.Error(w, "missing code_verifier", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "provider-access-token",
			"refresh_token": "provider-refresh-token",
			"token_type":    "bearer",
			"expires_in":    7200,
		})
	}))
	defer server.Close()

	provider := newTestProvider(t)
	provider.Endpoint.TokenURL = server.URL + "/2/oauth2/token"

	token, err := provider.ExchangeCode(context.Background(), "test-code", "test-verifier")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if token.AccessToken != "provider-access-token" {
		t.Errorf("access token = %q", token.AccessToken)
	}
	if token.RefreshToken != "provider-refresh-token" {
		t.Errorf("refresh token = %q", token.RefreshToken)
	}
}

// userInfoTransport redirects X API requests to the test server.
type userInfoTransport struct {
	server *httptest.Server
}

func (m *userInfoTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.Contains(req.URL.Host, "api.x.com") {
		testURL, _ := url.Parse(m.server.URL + req.URL.Path + "?" + req.URL.RawQuery)
		req.URL = testURL
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestValidateToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/users/me" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !strings.Contains(r.URL.RawQuery, "profile_image_url") {
			http.Error(w, "missing user.fields", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"id":                "12345",
				"username":          "alice",
				"name":              "Alice",
				"profile_image_url": "https://pbs.example/alice.png",
				"verified":          true,
			},
		})
	}))
	defer server.Close()

	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		HTTPClient:   &http.Client{Transport: &userInfoTransport{server: server}},
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	info, err := provider.ValidateToken(context.Background(), "good-token")
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if info.ID != "12345" || info.Username != "alice" || !info.Verified {
		t.Errorf("unexpected user info: %+v", info)
	}
}

func TestValidateTokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"title":"Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		HTTPClient:   &http.Client{Transport: &userInfoTransport{server: server}},
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	if _, err := provider.ValidateToken(context.Background(), "bad-token"); err == nil {
		t.Error("ValidateToken() should fail on non-2xx provider response")
	}
}

func TestValidateTokenMissingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		HTTPClient:   &http.Client{Transport: &userInfoTransport{server: server}},
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	if _, err := provider.ValidateToken(context.Background(), "token"); err == nil {
		t.Error("ValidateToken() should reject a response without an id")
	}
}
