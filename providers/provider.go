// Package providers defines the interface the console core uses to talk to an
// OpenID Connect identity provider.
package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// Provider defines the identity provider operations needed by the login flow.
// Implementations use golang.org/x/oauth2.Token for token responses.
type Provider interface {
	// Name returns the provider name (e.g., "oidc", "dex")
	Name() string

	// AuthorizationURL builds the URL the user agent is sent to for authentication.
	// codeChallenge and codeChallengeMethod carry the PKCE challenge.
	AuthorizationURL(state string, codeChallenge string, codeChallengeMethod string) string

	// ExchangeCode exchanges an authorization code and the PKCE verifier for tokens
	ExchangeCode(ctx context.Context, code string, codeVerifier string) (*oauth2.Token, error)

	// Identity derives the identity claims for a token response. The ID token is
	// preferred; providers may fall back to the userinfo endpoint.
	Identity(ctx context.Context, token *oauth2.Token) (*UserInfo, error)

	// RefreshToken obtains a new token using a refresh token
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// RevokeToken revokes a token at the provider. Providers without a revocation
	// endpoint return nil.
	RevokeToken(ctx context.Context, token string) error

	// HealthCheck verifies that the provider is reachable.
	// Returns nil if the provider is healthy, or an error describing the issue.
	HealthCheck(ctx context.Context) error
}

// UserInfo represents the identity claims returned by a provider
type UserInfo struct {
	// ID is the unique subject identifier from the provider
	ID string

	// Email is the user's email address
	Email string

	// EmailVerified indicates if the email is verified
	EmailVerified bool

	// Name is the user's full name
	Name string

	// GivenName is the user's first name
	GivenName string

	// FamilyName is the user's last name
	FamilyName string

	// Picture is the URL of the user's profile picture
	Picture string

	// Locale is the user's preferred locale
	Locale string

	// Groups are the user's group memberships
	Groups []string
}
