// Package mock provides a mock implementation of the Provider interface for testing.
package mock

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/oauth2"

	"github.com/giantswarm/console-core/providers"
)

// MockProvider is a mock implementation of the Provider interface for testing
type MockProvider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// AuthorizationURLFunc is called when AuthorizationURL() is invoked
	AuthorizationURLFunc func(state string, codeChallenge string, codeChallengeMethod string) string

	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, code string, codeVerifier string) (*oauth2.Token, error)

	// IdentityFunc is called when Identity() is invoked
	IdentityFunc func(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error)

	// RefreshTokenFunc is called when RefreshToken() is invoked
	RefreshTokenFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// RevokeTokenFunc is called when RevokeToken() is invoked
	RevokeTokenFunc func(ctx context.Context, token string) error

	// HealthCheckFunc is called when HealthCheck() is invoked
	HealthCheckFunc func(ctx context.Context) error

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

// NewMockProvider creates a new mock provider with default implementations
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		AuthorizationURLFunc: func(state string, codeChallenge string, codeChallengeMethod string) string {
			q := url.Values{
				"client_id":             {"mock-client"},
				"redirect_uri":          {"https://console.example.com/oauth/callback"},
				"response_type":         {"code"},
				"scope":                 {"openid email groups"},
				"state":                 {state},
				"code_challenge":        {codeChallenge},
				"code_challenge_method": {codeChallengeMethod},
			}
			return "https://mock.example.com/authorize?" + q.Encode()
		},
		ExchangeCodeFunc: func(ctx context.Context, code string, codeVerifier string) (*oauth2.Token, error) {
			return &oauth2.Token{
				AccessToken:  "mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "mock-refresh-token",
			}, nil
		},
		IdentityFunc: func(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error) {
			return &providers.UserInfo{
				ID:            "mock-user-123",
				Email:         "mock@example.com",
				EmailVerified: true,
				Name:          "Mock User",
				Groups:        []string{"mock-group"},
			}, nil
		},
		RefreshTokenFunc: func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			return &oauth2.Token{
				AccessToken:  "new-mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "new-mock-refresh-token",
			}, nil
		},
		RevokeTokenFunc: func(ctx context.Context, token string) error {
			return nil
		},
		HealthCheckFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	// Release the lock before calling the user function; it may call other mock methods
	m.mu.Lock()
	m.CallCounts["Name"]++
	fn := m.NameFunc
	m.mu.Unlock()

	if fn == nil {
		return "mock"
	}
	return fn()
}

// AuthorizationURL generates the URL to redirect users for authentication
func (m *MockProvider) AuthorizationURL(state string, codeChallenge string, codeChallengeMethod string) string {
	m.mu.Lock()
	m.CallCounts["AuthorizationURL"]++
	fn := m.AuthorizationURLFunc
	m.mu.Unlock()
	if fn == nil {
		return "https://mock.example.com/authorize?state=" + url.QueryEscape(state)
	}
	return fn(state, codeChallenge, codeChallengeMethod)
}

// ExchangeCode exchanges an authorization code for tokens
func (m *MockProvider) ExchangeCode(ctx context.Context, code string, codeVerifier string) (*oauth2.Token, error) {
	m.mu.Lock()
	m.CallCounts["ExchangeCode"]++
	fn := m.ExchangeCodeFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("ExchangeCodeFunc not configured")
	}
	return fn(ctx, code, codeVerifier)
}

// Identity derives identity claims for a token response
func (m *MockProvider) Identity(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error) {
	m.mu.Lock()
	m.CallCounts["Identity"]++
	fn := m.IdentityFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("IdentityFunc not configured")
	}
	return fn(ctx, token)
}

// RefreshToken refreshes an expired token using a refresh token
func (m *MockProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	m.mu.Lock()
	m.CallCounts["RefreshToken"]++
	fn := m.RefreshTokenFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("RefreshTokenFunc not configured")
	}
	return fn(ctx, refreshToken)
}

// RevokeToken revokes a token at the provider
func (m *MockProvider) RevokeToken(ctx context.Context, token string) error {
	m.mu.Lock()
	m.CallCounts["RevokeToken"]++
	fn := m.RevokeTokenFunc
	m.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("RevokeTokenFunc not configured")
	}
	return fn(ctx, token)
}

// HealthCheck reports the configured health
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	m.CallCounts["HealthCheck"]++
	fn := m.HealthCheckFunc
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// ResetCallCounts resets all call counters
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	m.CallCounts = make(map[string]int)
	m.mu.Unlock()
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

var _ providers.Provider = (*MockProvider)(nil)
