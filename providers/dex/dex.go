package dex

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/console-core/instrumentation"
	"github.com/giantswarm/console-core/providers/oidc"
)

// ProviderName is returned by Provider.Name
const ProviderName = "dex"

// offlineAccessScope makes Dex issue a refresh token
const offlineAccessScope = "offline_access"

// DefaultScopes are requested when Config.Scopes is empty
var DefaultScopes = []string{
	"openid",
	"profile",
	"email",
	"groups",
	offlineAccessScope,
}

// Provider implements providers.Provider for Dex
type Provider struct {
	*oidc.Provider
	logger *slog.Logger
}

// Config holds Dex provider configuration
type Config struct {
	// IssuerURL is the Dex issuer URL (e.g., https://dex.example.com)
	IssuerURL string

	// ClientID is the OAuth client ID registered in Dex
	ClientID string

	// ClientSecret is empty for public clients registered with "public: true"
	ClientSecret string

	// RedirectURL is the OAuth redirect URL
	RedirectURL string

	// ConnectorID selects a Dex connector (e.g., "github", "ldap") and bypasses
	// the connector selection screen
	ConnectorID string

	// Scopes are optional custom scopes. "openid" and "offline_access" are always included.
	// Default: ["openid", "profile", "email", "groups", "offline_access"]
	Scopes []string

	// HTTPClient is an optional custom HTTP client
	HTTPClient *http.Client

	// RequestTimeout is the timeout for Dex API calls (default: 30s)
	RequestTimeout time.Duration

	// AllowPrivateIssuer permits a Dex instance on loopback or private networks
	AllowPrivateIssuer bool

	// Logger is an optional logger (default: slog.Default())
	Logger *slog.Logger

	// Instrumentation records provider call metrics when set
	Instrumentation *instrumentation.Instrumentation
}

// NewProvider creates a Dex provider. Endpoints are discovered from the issuer.
func NewProvider(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p, err := oidc.NewProvider(ctx, &oidc.Config{
		IssuerURL:          cfg.IssuerURL,
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		RedirectURL:        cfg.RedirectURL,
		ConnectorID:        cfg.ConnectorID,
		Scopes:             resolveScopes(cfg.Scopes),
		HTTPClient:         cfg.HTTPClient,
		RequestTimeout:     cfg.RequestTimeout,
		AllowPrivateIssuer: cfg.AllowPrivateIssuer,
		Logger:             logger,
		Instrumentation:    cfg.Instrumentation,
	})
	if err != nil {
		return nil, err
	}

	return &Provider{Provider: p, logger: logger.With("provider", ProviderName)}, nil
}

// resolveScopes returns the configured scopes or the defaults, with
// offline_access appended when missing. openid is added by the OIDC provider.
func resolveScopes(configScopes []string) []string {
	scopes := slices.Clone(configScopes)
	if len(scopes) == 0 {
		return slices.Clone(DefaultScopes)
	}
	if !slices.Contains(scopes, offlineAccessScope) {
		scopes = append(scopes, offlineAccessScope)
	}
	return scopes
}

// Name returns the provider name
func (p *Provider) Name() string {
	return ProviderName
}

// ExchangeCode exchanges an authorization code for tokens with PKCE verification.
// A response without a refresh token means the Dex client is not allowed
// offline_access; the session then ends when the access token expires.
func (p *Provider) ExchangeCode(ctx context.Context, code string, verifier string) (*oauth2.Token, error) {
	token, err := p.Provider.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == "" {
		p.logger.Warn("Dex issued no refresh token; check that the client may request offline_access",
			"issuer", p.Issuer())
	}
	return token, nil
}

// RefreshToken refreshes a token. Dex invalidates refreshToken on use; the
// returned token carries its replacement.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	token, err := p.Provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == refreshToken {
		// Rotation disabled on the Dex side (expiry.refreshTokens.disableRotation)
		p.logger.Debug("Dex refresh token was not rotated")
	}
	return token, nil
}
