package console

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/console-core/flow"
	"github.com/giantswarm/console-core/security"
)

// Config holds the session configuration
// Structured using composition; the CLI loads it from YAML
type Config struct {
	// Identity provider settings
	Provider ProviderConfig `yaml:"provider"`

	// Console API settings
	API APIConfig `yaml:"api"`

	// Login session settings
	Session SessionConfig `yaml:"session"`

	// Security settings
	Security SecurityConfig `yaml:"security"`

	// OpenTelemetry settings
	Instrumentation InstrumentationConfig `yaml:"instrumentation"`

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger `yaml:"-"`

	// HTTPClient is used for identity provider and API calls
	// If not provided, each component creates its own client with a timeout
	HTTPClient *http.Client `yaml:"-"`
}

// Identity provider types accepted in ProviderConfig.Type
const (
	ProviderTypeOIDC = "oidc"
	ProviderTypeDex  = "dex"
)

// ProviderConfig holds OIDC identity provider settings
type ProviderConfig struct {
	// Type selects the provider implementation: "oidc" or "dex"
	// Default: "oidc"
	Type string `yaml:"type"`

	// IssuerURL is the OIDC issuer (required)
	IssuerURL string `yaml:"issuer_url"`

	// ClientID is the OAuth client ID (required)
	ClientID string `yaml:"client_id"`

	// ClientSecret is only set for confidential clients; the console is a public
	// client and relies on PKCE
	ClientSecret string `yaml:"client_secret"`

	// RedirectURL is where the identity provider sends the callback (required)
	RedirectURL string `yaml:"redirect_url"`

	// ConnectorID selects a Dex connector, skipping the connector chooser
	ConnectorID string `yaml:"connector_id"`

	// Scopes requested in addition to "openid"
	Scopes []string `yaml:"scopes"`

	// RequestTimeout bounds identity provider calls
	// Default: 30 seconds
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// AllowPrivateIssuer permits issuers on loopback and private networks.
	// WARNING: Only for development and tests.
	AllowPrivateIssuer bool `yaml:"allow_private_issuer"`
}

// APIConfig holds console API settings
type APIConfig struct {
	// BaseURL of the console API (required)
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single call
	// Default: 30 seconds
	Timeout time.Duration `yaml:"timeout"`

	// RateLimit is the maximum number of calls per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the maximum burst size
	RateBurst int `yaml:"rate_burst"`

	// RequireCredential lists procedures that fail without a network round trip
	// when no credential is held
	RequireCredential []string `yaml:"require_credential"`
}

// SessionConfig holds login session settings
type SessionConfig struct {
	// PendingLoginTTL bounds the round trip to the identity provider
	// Default: 10 minutes
	PendingLoginTTL time.Duration `yaml:"pending_login_ttl"`

	// RefreshThreshold is how close to expiry a credential is refreshed
	// Default: 1 minute
	RefreshThreshold time.Duration `yaml:"refresh_threshold"`

	// AutoRefresh refreshes an expiring credential before each API call
	AutoRefresh bool `yaml:"auto_refresh"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	// SealingKey is the base64-encoded AES-256 key used by Persist and Restore.
	// Empty disables persistence.
	SealingKey string `yaml:"sealing_key"`

	// SealingPassphrase derives the sealing key with HKDF when SealingKey is empty
	SealingPassphrase string `yaml:"sealing_passphrase"`

	// EnableAuditLogging enables security audit logging.
	// Logs login, sign-out and credential events (subjects hashed).
	EnableAuditLogging bool `yaml:"enable_audit_logging"`
}

// InstrumentationConfig holds OpenTelemetry settings
type InstrumentationConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

const (
	// DefaultRequestTimeout is used for provider and API calls
	DefaultRequestTimeout = 30 * time.Second

	// DefaultRefreshThreshold is how close to expiry AutoRefresh refreshes
	DefaultRefreshThreshold = time.Minute

	// DefaultServiceName names the session in telemetry
	DefaultServiceName = "console"
)

// Validate checks required fields and URL formats
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Type {
	case "", ProviderTypeOIDC, ProviderTypeDex:
	default:
		errs = append(errs, fmt.Errorf("provider.type %q is not supported (want %q or %q)", c.Provider.Type, ProviderTypeOIDC, ProviderTypeDex))
	}
	if c.Provider.IssuerURL == "" {
		errs = append(errs, errors.New("provider.issuer_url is required"))
	}
	if c.Provider.ClientID == "" {
		errs = append(errs, errors.New("provider.client_id is required"))
	}
	if c.Provider.RedirectURL == "" {
		errs = append(errs, errors.New("provider.redirect_url is required"))
	} else if err := validateAbsoluteURL(c.Provider.RedirectURL); err != nil {
		errs = append(errs, fmt.Errorf("provider.redirect_url: %w", err))
	}

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	} else if err := validateAbsoluteURL(c.API.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("api.base_url: %w", err))
	}

	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit must not be negative"))
	}
	if c.Session.PendingLoginTTL < 0 || c.Session.RefreshThreshold < 0 || c.API.Timeout < 0 || c.Provider.RequestTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}

	if c.Security.SealingKey != "" {
		if _, err := security.KeyFromBase64(c.Security.SealingKey); err != nil {
			errs = append(errs, fmt.Errorf("security.sealing_key: %w", err))
		}
	}

	return errors.Join(errs...)
}

// applyDefaults fills zero values. It does not modify the caller's Config.
func (c Config) applyDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Provider.Type == "" {
		c.Provider.Type = ProviderTypeOIDC
	}
	if c.Provider.RequestTimeout == 0 {
		c.Provider.RequestTimeout = DefaultRequestTimeout
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultRequestTimeout
	}
	if c.API.RateLimit > 0 && c.API.RateBurst < 1 {
		c.API.RateBurst = 1
	}
	if c.Session.PendingLoginTTL == 0 {
		c.Session.PendingLoginTTL = flow.DefaultPendingTTL
	}
	if c.Session.RefreshThreshold == 0 {
		c.Session.RefreshThreshold = DefaultRefreshThreshold
	}
	if c.Instrumentation.ServiceName == "" {
		c.Instrumentation.ServiceName = DefaultServiceName
	}
	return c
}

// sealingKey resolves the key used for Persist and Restore, or nil when
// persistence is disabled
func (c *Config) sealingKey() ([]byte, error) {
	switch {
	case c.Security.SealingKey != "":
		return security.KeyFromBase64(c.Security.SealingKey)
	case c.Security.SealingPassphrase != "":
		return security.DeriveKey([]byte(c.Security.SealingPassphrase), []byte(c.Provider.ClientID))
	default:
		return nil, nil
	}
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	if strings.Contains(u.Host, "@") || u.User != nil {
		return errors.New("credentials in URL are not allowed")
	}
	return nil
}
