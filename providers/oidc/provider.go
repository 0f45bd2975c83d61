package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/giantswarm/console-core/instrumentation"
	"github.com/giantswarm/console-core/internal/util"
	"github.com/giantswarm/console-core/providers"
	"github.com/giantswarm/console-core/security"
)

// ProviderName is returned by Provider.Name
const ProviderName = "oidc"

// Provider implements providers.Provider for a generic OpenID Connect identity
// provider. Endpoints come from discovery; identity claims come from the ID token
// with the userinfo endpoint as fallback.
type Provider struct {
	*oauth2.Config
	discoveryClient *DiscoveryClient
	issuerURL       string
	connectorID     string
	httpClient      *http.Client
	requestTimeout  time.Duration
	logger          *slog.Logger
	instrumentation *instrumentation.Instrumentation
	now             func() time.Time
}

// Config holds OIDC provider configuration
type Config struct {
	// IssuerURL is the OIDC issuer URL (e.g., https://dex.example.com)
	IssuerURL string

	// ClientID is the OAuth client ID
	ClientID string

	// ClientSecret is the OAuth client secret. Public clients (browser, CLI) leave
	// this empty and rely on PKCE.
	ClientSecret string

	// RedirectURL is the OAuth redirect URL
	RedirectURL string

	// ConnectorID is the optional Dex connector to use (e.g., "github", "ldap")
	// When set, bypasses the Dex connector selection UI
	ConnectorID string

	// Scopes are optional custom scopes. "openid" is always included.
	// Default: ["openid", "profile", "email", "groups", "offline_access"]
	Scopes []string

	// HTTPClient is an optional custom HTTP client
	HTTPClient *http.Client

	// RequestTimeout is the timeout for provider API calls (default: 30s)
	RequestTimeout time.Duration

	// AllowPrivateIssuer permits issuers on loopback and private networks.
	// HTTPS is still required.
	AllowPrivateIssuer bool

	// Logger is an optional logger (default: slog.Default())
	Logger *slog.Logger

	// Instrumentation records provider call metrics when set
	Instrumentation *instrumentation.Instrumentation
}

// NewProvider creates a new OIDC provider.
// It performs OIDC discovery to fetch authorization and token endpoints.
func NewProvider(ctx context.Context, cfg *Config) (*Provider, error) {
	if err := validateRequiredConfig(cfg); err != nil {
		return nil, err
	}

	scopes, err := resolveScopes(cfg.Scopes)
	if err != nil {
		return nil, err
	}

	requestTimeout := resolveTimeout(cfg.RequestTimeout)
	httpClient := resolveHTTPClient(cfg.HTTPClient, requestTimeout)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var discoveryOpts []DiscoveryOption
	if cfg.AllowPrivateIssuer {
		discoveryOpts = append(discoveryOpts, WithPrivateIssuers())
	}
	discoveryClient := NewDiscoveryClient(httpClient, time.Hour, logger, discoveryOpts...)

	ctx, cancel := providers.EnsureContextTimeout(ctx, requestTimeout)
	defer cancel()

	doc, err := discoveryClient.Discover(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("OIDC discovery failed: %w", err)
	}

	if len(doc.CodeChallengeMethodsSupported) > 0 && !slices.Contains(doc.CodeChallengeMethodsSupported, "S256") {
		return nil, fmt.Errorf("provider does not support PKCE method S256 (supported: %v)", doc.CodeChallengeMethodsSupported)
	}

	authStyle := oauth2.AuthStyleInParams
	if cfg.ClientSecret != "" {
		authStyle = oauth2.AuthStyleAutoDetect
	}

	return &Provider{
		Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   doc.AuthorizationEndpoint,
				TokenURL:  doc.TokenEndpoint,
				AuthStyle: authStyle,
			},
		},
		discoveryClient: discoveryClient,
		issuerURL:       cfg.IssuerURL,
		connectorID:     cfg.ConnectorID,
		httpClient:      httpClient,
		requestTimeout:  requestTimeout,
		logger:          logger,
		instrumentation: cfg.Instrumentation,
		now:             time.Now,
	}, nil
}

// validateRequiredConfig validates required configuration fields.
func validateRequiredConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if cfg.RedirectURL == "" {
		return fmt.Errorf("redirect URL is required")
	}
	if cfg.IssuerURL == "" {
		return fmt.Errorf("issuer URL is required")
	}

	// SECURITY: Validate issuer URL with SSRF protection
	if err := validateIssuerURL(cfg.IssuerURL, cfg.AllowPrivateIssuer); err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	if cfg.ConnectorID != "" {
		if err := ValidateConnectorID(cfg.ConnectorID); err != nil {
			return fmt.Errorf("invalid connector ID: %w", err)
		}
	}

	return nil
}

// DefaultScopes are requested when Config.Scopes is empty
var DefaultScopes = []string{
	"openid",
	"profile",
	"email",
	"groups",         // group memberships for the console
	"offline_access", // required for refresh tokens
}

// resolveScopes returns validated scopes, using defaults if none provided and
// always including "openid".
func resolveScopes(configScopes []string) ([]string, error) {
	scopes := slices.Clone(configScopes)
	if len(scopes) == 0 {
		scopes = slices.Clone(DefaultScopes)
	}
	if !slices.Contains(scopes, "openid") {
		scopes = append([]string{"openid"}, scopes...)
	}

	if err := ValidateScopes(scopes); err != nil {
		return nil, fmt.Errorf("invalid scopes: %w", err)
	}

	return scopes, nil
}

// resolveTimeout returns the timeout, using default if not set.
func resolveTimeout(timeout time.Duration) time.Duration {
	if timeout == 0 {
		return providers.DefaultRequestTimeout
	}
	return timeout
}

// resolveHTTPClient returns the HTTP client, creating one if not provided.
func resolveHTTPClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: timeout}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return ProviderName
}

// Issuer returns the configured issuer URL
func (p *Provider) Issuer() string {
	return p.issuerURL
}

// DefaultScopes returns a copy of the provider's configured scopes.
func (p *Provider) DefaultScopes() []string {
	return slices.Clone(p.Scopes)
}

// AuthorizationURL generates the authorization URL with PKCE parameters.
// If connector_id is configured, it is appended to bypass Dex's connector selection UI.
func (p *Provider) AuthorizationURL(state string, codeChallenge string, codeChallengeMethod string) string {
	var opts []oauth2.AuthCodeOption

	if codeChallenge != "" && codeChallengeMethod != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", codeChallengeMethod),
		)
	}

	if p.connectorID != "" {
		opts = append(opts, oauth2.SetAuthURLParam("connector_id", p.connectorID))
	}

	// AuthCodeURL sets client_id, redirect_uri, response_type=code, scope and state
	return p.AuthCodeURL(state, opts...)
}

// ExchangeCode exchanges an authorization code for tokens with PKCE verification.
func (p *Provider) ExchangeCode(ctx context.Context, code string, verifier string) (*oauth2.Token, error) {
	ctx, cancel := providers.EnsureContextTimeout(ctx, p.requestTimeout)
	defer cancel()

	start := time.Now()
	token, err := providers.ExchangeCodeWithPKCE(ctx, p.Config, p.httpClient, code, verifier)
	p.recordCall(ctx, "exchange_code", start, err)
	if err != nil {
		return nil, err
	}

	if idToken, _ := token.Extra("id_token").(string); idToken == "" && slices.Contains(p.Scopes, "openid") {
		p.logger.Warn("Token response carries no ID token despite openid scope", "issuer", p.issuerURL)
	}

	return token, nil
}

// idTokenClaims are the ID token claims read by the console
type idTokenClaims struct {
	jwt.RegisteredClaims
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Name          string   `json:"name"`
	GivenName     string   `json:"given_name"`
	FamilyName    string   `json:"family_name"`
	Picture       string   `json:"picture"`
	Locale        string   `json:"locale"`
	Groups        []string `json:"groups"`
}

// Identity derives identity claims from the token response. The ID token is
// parsed and its issuer, audience and expiry are checked; its signature is not,
// since it came directly from the token endpoint over TLS and the resource server
// verifies the access token independently. Without an ID token, the userinfo
// endpoint is queried.
func (p *Provider) Identity(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error) {
	if token == nil {
		return nil, errors.New("token is required")
	}

	if raw, ok := token.Extra("id_token").(string); ok && raw != "" {
		return p.parseIDToken(raw)
	}

	return p.userInfo(ctx, token.AccessToken)
}

// parseIDToken reads the claims of an ID token received directly from the token
// endpoint over TLS; the signature is not checked, the claims are.
func (p *Provider) parseIDToken(raw string) (*providers.UserInfo, error) {
	var claims idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token: %w", err)
	}

	validator := jwt.NewValidator(
		jwt.WithIssuer(util.NormalizeURL(p.issuerURL)),
		jwt.WithAudience(p.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(security.DefaultClockSkewGracePeriod),
		jwt.WithTimeFunc(p.now),
	)
	if err := validator.Validate(claims); err != nil {
		return nil, fmt.Errorf("invalid ID token: %w", err)
	}

	if claims.Subject == "" {
		return nil, errors.New("invalid ID token: missing subject")
	}

	// SECURITY: Validate groups claim
	if err := ValidateGroups(claims.Groups); err != nil {
		return nil, fmt.Errorf("invalid groups claim: %w", err)
	}

	return &providers.UserInfo{
		ID:            claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
		Picture:       claims.Picture,
		Locale:        claims.Locale,
		Groups:        claims.Groups,
	}, nil
}

// userInfo calls the provider's userinfo endpoint.
func (p *Provider) userInfo(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
	ctx, cancel := providers.EnsureContextTimeout(ctx, p.requestTimeout)
	defer cancel()

	start := time.Now()
	info, err := p.fetchUserInfo(ctx, accessToken)
	p.recordCall(ctx, "userinfo", start, err)
	return info, err
}

func (p *Provider) fetchUserInfo(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
	doc, err := p.discoveryClient.Discover(ctx, p.issuerURL)
	if err != nil {
		return nil, fmt.Errorf("OIDC discovery failed: %w", err)
	}

	if doc.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("no ID token in response and no userinfo endpoint in discovery document")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	client := p.Client(ctx, &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.UserInfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var claims idTokenClaims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("userinfo response has no subject")
	}

	if err := ValidateGroups(claims.Groups); err != nil {
		return nil, fmt.Errorf("invalid groups claim: %w", err)
	}

	return &providers.UserInfo{
		ID:            claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
		Picture:       claims.Picture,
		Locale:        claims.Locale,
		Groups:        claims.Groups,
	}, nil
}

// RefreshToken refreshes an expired token using a refresh token.
// Providers rotating refresh tokens (e.g. Dex) return a new one; the oauth2
// library carries it in the returned token.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := providers.EnsureContextTimeout(ctx, p.requestTimeout)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	start := time.Now()
	newToken, err := p.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	p.recordCall(ctx, "refresh_token", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	// Providers without rotation omit refresh_token; keep the one we used
	if newToken.RefreshToken == "" {
		newToken.RefreshToken = refreshToken
	}

	return newToken, nil
}

// RevokeToken revokes a token at the revocation endpoint if available.
// Gracefully degrades if revocation endpoint is not supported.
func (p *Provider) RevokeToken(ctx context.Context, token string) error {
	ctx, cancel := providers.EnsureContextTimeout(ctx, p.requestTimeout)
	defer cancel()

	start := time.Now()
	err := p.revoke(ctx, token)
	p.recordCall(ctx, "revoke_token", start, err)
	return err
}

func (p *Provider) revoke(ctx context.Context, token string) error {
	doc, err := p.discoveryClient.Discover(ctx, p.issuerURL)
	if err != nil {
		return fmt.Errorf("OIDC discovery failed: %w", err)
	}

	// Not an error - some OIDC providers don't support revocation
	if doc.RevocationEndpoint == "" {
		return nil
	}

	data := url.Values{}
	data.Set("token", token)

	// Public clients identify themselves in the body
	if p.ClientSecret == "" {
		data.Set("client_id", p.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.RevocationEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if p.ClientSecret != "" {
		req.SetBasicAuth(p.ClientID, p.ClientSecret)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// RFC 7009 Section 2.2: 200 for revoked and for invalid tokens alike
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token revocation failed with status %d", resp.StatusCode)
	}

	return nil
}

// HealthCheck verifies that the OIDC discovery endpoint is reachable.
//
// Error messages may contain HTTP status codes; do not show them to untrusted users.
func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx, cancel := providers.EnsureContextTimeout(ctx, p.requestTimeout)
	defer cancel()

	if _, err := p.discoveryClient.Discover(ctx, p.issuerURL); err != nil {
		return fmt.Errorf("oidc provider unreachable: %w", err)
	}

	return nil
}

func (p *Provider) recordCall(ctx context.Context, operation string, start time.Time, err error) {
	if p.instrumentation == nil {
		return
	}
	p.instrumentation.Metrics().RecordProviderAPICall(ctx, ProviderName, operation, float64(time.Since(start).Milliseconds()), err)
}
