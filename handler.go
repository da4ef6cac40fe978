package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/freemyx/oauth-provider/instrumentation"
	"github.com/freemyx/oauth-provider/security"
	"github.com/freemyx/oauth-provider/server"
	"github.com/freemyx/oauth-provider/storage"
)

const tokenTypeBearer = "Bearer"

// Handler exposes the OAuth server over HTTP.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler wraps an already-constructed server. Most callers should use
// New, which builds the server from a Config.
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// New builds a Handler and its server from a deployment configuration.
func New(config *Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	trustedProxyCount := config.TrustedProxyCount
	if config.TrustProxy && trustedProxyCount == 0 {
		trustedProxyCount = 1
	}

	srv, err := server.NewFromStore(config.Provider, config.Store, &server.Config{
		Issuer:               config.Issuer,
		AuthorizationCodeTTL: config.AuthorizationCodeTTL,
		AccessTokenTTL:       config.AccessTokenTTL,
		LoginStateTTL:        config.LoginStateTTL,
		ExchangeScope:        config.ExchangeScope,
		SupportedScopes:      config.SupportedScopes,
		TrustProxy:           config.TrustProxy,
		TrustedProxyCount:    trustedProxyCount,
	}, logger)
	if err != nil {
		return nil, err
	}

	if config.EnableAuditLogging {
		srv.SetAuditor(security.NewAuditor(logger, true))
	}
	if config.RateLimit.Rate > 0 {
		srv.SetRateLimiter(security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, logger))
	}
	if config.Instrumentation != nil {
		srv.SetInstrumentation(config.Instrumentation)
	}

	return NewHandler(srv, logger), nil
}

// Server returns the underlying protocol server.
func (h *Handler) Server() *server.Server {
	return h.server
}

// RegisterRoutes mounts every endpoint on mux under the conventional paths.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.ServeAuthorizationServerMetadata)
	mux.HandleFunc("/authorize", h.ServeAuthorization)
	mux.HandleFunc("/token", h.ServeToken)
	mux.HandleFunc("/register", h.ServeClientRegistration)
	mux.HandleFunc("/login", h.ServeLogin)
	mux.HandleFunc("/callback", h.ServeCallback)
}

// Routes returns an http.Handler serving every endpoint, wrapped with
// request ID propagation.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return security.RequestIDMiddleware(mux)
}

// ServeAuthorizationServerMetadata handles the RFC 8414 metadata document.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := h.server.Config.Issuer
	metadata := AuthorizationServerMetadata{
		Issuer:                 issuer,
		AuthorizationEndpoint:  issuer + "/authorize",
		TokenEndpoint:          issuer + "/token",
		RegistrationEndpoint:   issuer + "/register",
		ScopesSupported:        h.server.Config.SupportedScopes,
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported: []string{
			GrantTypeAuthorizationCode,
			GrantTypeClientCredentials,
			GrantTypeRefreshToken,
			GrantTypeTokenExchange,
		},
		TokenEndpointAuthMethodsSupported: []string{
			server.TokenEndpointAuthMethodNone,
			server.TokenEndpointAuthMethodBasic,
			server.TokenEndpointAuthMethodPost,
		},
		CodeChallengeMethodsSupported: []string{server.PKCEMethodS256, server.PKCEMethodPlain},
	}

	security.SetSecurityHeaders(w, issuer)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

// ServeAuthorization handles the authorization endpoint. Validation errors
// are JSON 400s; only a fully validated request produces a 302.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorize")
		defer span.End()
	}

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP, ok := h.allowRequest(w, r, "authorize", startTime)
	if !ok {
		return
	}

	q := r.URL.Query()
	req := &server.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, req.ClientID))
	h.recordAuthorizationStarted(req.ClientID)

	redirect, err := h.server.Authorize(ctx, req, clientIP)
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics("authorize", r.Method, status, startTime)
		instrumentation.SetSpanError(span, "authorization rejected")
		return
	}

	h.recordHTTPMetrics("authorize", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// ServeToken handles the token endpoint: client authentication, grant
// gating, and dispatch to the four grant handlers.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP, ok := h.allowRequest(w, r, "token", startTime)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Malformed form body", http.StatusBadRequest)
		return
	}

	grantType := r.PostFormValue("grant_type")
	if grantType == "" {
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "grant_type missing")
		h.writeError(w, ErrorCodeInvalidRequest, "grant_type is required", http.StatusBadRequest)
		return
	}

	client, err := h.authenticateClient(r, clientIP)
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics("token", r.Method, status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "client authentication failed")
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrGrantType, grantType))

	if !client.HasGrantType(grantType) {
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "grant type not allowed for client")
		h.writeError(w, ErrorCodeUnauthorizedClient,
			"Client is not authorized for this grant type", http.StatusBadRequest)
		return
	}

	var (
		tok             *oauth2.Token
		scope           string
		issuedTokenType string
	)
	switch grantType {
	case GrantTypeAuthorizationCode:
		tok, scope, err = h.server.ExchangeAuthorizationCode(ctx, client,
			r.PostFormValue("code"), r.PostFormValue("redirect_uri"), r.PostFormValue("code_verifier"), clientIP)
		if err == nil {
			h.recordCodeExchanged(client.ClientID)
		}
	case GrantTypeClientCredentials:
		tok, scope, err = h.server.ClientCredentialsGrant(ctx, client, r.PostFormValue("scope"), clientIP)
	case GrantTypeRefreshToken:
		tok, scope, err = h.server.RefreshAccessToken(ctx, client,
			r.PostFormValue("refresh_token"), r.PostFormValue("scope"), clientIP)
		if err == nil {
			h.recordTokenRefreshed(client.ClientID)
		}
	case GrantTypeTokenExchange:
		tok, scope, err = h.server.TokenExchange(ctx, client, &server.TokenExchangeRequest{
			SubjectToken:     r.PostFormValue("subject_token"),
			SubjectTokenType: r.PostFormValue("subject_token_type"),
			SubjectIssuer:    r.PostFormValue("subject_issuer"),
			Scope:            r.PostFormValue("scope"),
		}, clientIP)
		issuedTokenType = TokenTypeAccessToken
		if err == nil {
			h.recordTokenExchanged(client.ClientID, r.PostFormValue("subject_issuer"))
		}
	default:
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "unsupported grant type")
		h.writeError(w, ErrorCodeUnsupportedGrantType,
			"Grant type "+grantType+" is not supported", http.StatusBadRequest)
		return
	}
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics("token", r.Method, status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "grant failed")
		return
	}

	h.recordHTTPMetrics("token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, tok, scope, issuedTokenType)
}

// ServeClientRegistration handles RFC 7591 dynamic client registration. An
// empty body registers a client with pure defaults.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.register")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("register", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP, ok := h.allowRequest(w, r, "register", startTime)
	if !ok {
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.recordHTTPMetrics("register", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Malformed JSON body", http.StatusBadRequest)
		return
	}

	client, secret, err := h.server.RegisterClient(ctx, &server.RegistrationParams{
		RedirectURIs:            req.RedirectURIs,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		ClientName:              req.ClientName,
		Scope:                   req.Scope,
	}, clientIP)
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics("register", r.Method, status, startTime)
		instrumentation.RecordError(span, err)
		return
	}

	h.recordClientRegistered(client.TokenEndpointAuthMethod)
	h.recordHTTPMetrics("register", r.Method, http.StatusCreated, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        client.ClientIDIssuedAt,
		ClientSecretExpiresAt:   client.ClientSecretExpiresAt,
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.ClientName,
		Scope:                   client.Scope,
	})
}

// ServeLogin starts the browser login flow against the external provider.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.login")
		defer span.End()
	}

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("login", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP, ok := h.allowRequest(w, r, "login", startTime)
	if !ok {
		return
	}

	redirect, err := h.server.StartLogin(ctx,
		r.URL.Query().Get("client_id"), r.URL.Query().Get("redirect_uri"), clientIP)
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics("login", r.Method, status, startTime)
		instrumentation.RecordError(span, err)
		return
	}

	h.recordHTTPMetrics("login", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// ServeCallback completes the browser login flow after the external
// provider redirects back.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.callback")
		defer span.End()
	}

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("callback", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP, ok := h.allowRequest(w, r, "callback", startTime)
	if !ok {
		return
	}

	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		h.logger.Error("Provider returned error on callback",
			"error", providerErr, "description", q.Get("error_description"))
		h.recordCallbackProcessed(false)
		h.recordHTTPMetrics("callback", r.Method, http.StatusInternalServerError, startTime)
		instrumentation.SetSpanError(span, "provider returned error")
		h.writeError(w, ErrorCodeServerError, "Identity provider reported an error", http.StatusInternalServerError)
		return
	}

	redirect, err := h.server.HandleCallback(ctx, q.Get("state"), q.Get("code"), clientIP)
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordCallbackProcessed(false)
		h.recordHTTPMetrics("callback", r.Method, status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "callback failed")
		return
	}

	h.recordCallbackProcessed(true)
	h.recordHTTPMetrics("callback", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// authenticateClient resolves client credentials from the Basic header or,
// failing that, the form body. Basic values take precedence when present.
func (h *Handler) authenticateClient(r *http.Request, clientIP string) (*storage.Client, error) {
	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if basicID, basicSecret, ok := r.BasicAuth(); ok && basicID != "" {
		clientID, clientSecret = basicID, basicSecret
	}
	return h.server.AuthenticateClient(r.Context(), clientID, clientSecret, clientIP)
}

// allowRequest applies the per-IP rate limit and resolves the client IP.
// When the limit is exceeded it writes the 429 itself and returns false.
func (h *Handler) allowRequest(w http.ResponseWriter, r *http.Request, endpoint string, startTime time.Time) (string, bool) {
	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

	if h.server.RateLimiter != nil && !h.server.RateLimiter.Allow(clientIP) {
		h.logger.Warn("Rate limit exceeded", "endpoint", endpoint, "ip", clientIP)
		if h.server.Auditor != nil {
			h.server.Auditor.LogRateLimitExceeded(clientIP, "")
		}
		h.recordRateLimitExceeded()
		h.recordHTTPMetrics(endpoint, r.Method, http.StatusTooManyRequests, startTime)
		h.writeError(w, ErrorCodeRateLimitExceeded, "Too many requests", http.StatusTooManyRequests)
		return clientIP, false
	}

	return clientIP, true
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *oauth2.Token, scope, issuedTokenType string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = tokenTypeBearer
	}

	expiresIn := token.ExpiresIn
	if expiresIn == 0 {
		expiresIn = int64(time.Until(token.Expiry).Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken:     token.AccessToken,
		TokenType:       tokenType,
		ExpiresIn:       expiresIn,
		RefreshToken:    token.RefreshToken,
		Scope:           scope,
		IssuedTokenType: issuedTokenType,
	})
}

// writeOAuthError maps an error from the server layer onto the wire and
// returns the status written. Untyped errors are store or dependency faults
// and surface as a generic 500.
func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) int {
	var srvErr *server.Error
	if errors.As(err, &srvErr) {
		h.writeError(w, srvErr.Code, srvErr.Description, srvErr.Status)
		return srvErr.Status
	}
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return oauthErr.Status
	}

	h.logger.Error("Internal error", "error", err)
	h.writeError(w, ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	// Client authentication failures advertise Basic so confidential
	// clients know how to retry. Bearer paths set their own challenge
	// before calling here.
	if status == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
		w.Header().Set("WWW-Authenticate", "Basic")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	duration := float64(time.Since(startTime).Microseconds()) / 1000.0
	h.server.Instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}

func (h *Handler) recordAuthorizationStarted(clientID string) {
	if h.server.Instrumentation == nil {
		return
	}
	h.server.Instrumentation.Metrics().RecordAuthorizationStarted(context.Background(), clientID)
}

func (h *Handler) recordCodeExchanged(clientID string) {
	if h.server.Instrumentation == nil {
		return
	}
	h.server.Instrumentation.Metrics().RecordCodeExchange(context.Background(), clientID)
}

func (h *Handler) recordTokenRefreshed(clientID string) {
	if h.server.Instrumentation == nil {
		return
	}
	h.server.Instrumentation.Metrics().RecordTokenRefresh(context.Background(), clientID)
}

func (h *Handler) recordTokenExchanged(clientID, provider string) {
	if h.server.Instrumentation == nil {
		return
	}
	h.server.Instrumentation.Metrics().RecordTokenExchange(context.Background(), clientID, provider)
}

func (h *Handler) recordClientRegistered(authMethod string) {
	if h.server.Instrumentation == nil {
		return
	}
	h.server.Instrumentation.Metrics().RecordClientRegistration(context.Background(), authMethod)
}

func (h *Handler) recordCallbackProcessed(success bool) {
	if h.server.Instrumentation == nil {
		return
	}
	h.server.Instrumentation.Metrics().RecordCallbackProcessed(context.Background(), success)
}

func (h *Handler) recordRateLimitExceeded() {
	if h.server.Instrumentation == nil {
		return
	}
	h.server.Instrumentation.Metrics().RecordRateLimitExceeded(context.Background(), "ip")
}
