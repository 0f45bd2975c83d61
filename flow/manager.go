package flow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/console-core/credential"
	"github.com/giantswarm/console-core/instrumentation"
	"github.com/giantswarm/console-core/internal/util"
	"github.com/giantswarm/console-core/providers"
	"github.com/giantswarm/console-core/security"
)

const (
	// DefaultPendingTTL bounds the round trip to the identity provider
	DefaultPendingTTL = 10 * time.Minute

	// DefaultReturnPath is used when BeginLogin gets an empty return path
	DefaultReturnPath = "/"

	// PKCEMethodS256 is the only challenge method used
	PKCEMethodS256 = "S256"

	// stateBytes is the entropy of the anti-CSRF state value
	stateBytes = 32
)

// AuthorizationRequest is the pending state of one login round trip
type AuthorizationRequest struct {
	State         string
	CodeVerifier  string
	CodeChallenge string
	ReturnPath    string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Redirector sends the user agent to the authorization URL
type Redirector interface {
	Redirect(ctx context.Context, authURL string) error
}

// RedirectorFunc adapts a function to Redirector
type RedirectorFunc func(ctx context.Context, authURL string) error

// Redirect calls f
func (f RedirectorFunc) Redirect(ctx context.Context, authURL string) error {
	return f(ctx, authURL)
}

// Config configures a Manager
type Config struct {
	// PendingTTL is how long a pending authorization request stays valid (default: 10m)
	PendingTTL time.Duration

	// RefreshThreshold is how close to expiry EnsureFresh refreshes (default: 1m)
	RefreshThreshold time.Duration

	// Redirector, when set, is handed the authorization URL by BeginLogin
	Redirector Redirector

	// OnStateChange observes state transitions
	OnStateChange StateListener

	// Logger is an optional logger (default: slog.Default())
	Logger *slog.Logger

	// Auditor records security events
	Auditor *security.Auditor

	// Instrumentation records login metrics and spans
	Instrumentation *instrumentation.Instrumentation
}

// Manager drives the PKCE login flow and writes the resulting credential to the store
type Manager struct {
	provider providers.Provider
	store    *credential.Store
	config   Config
	logger   *slog.Logger
	auditor  *security.Auditor
	inst     *instrumentation.Instrumentation
	tracer   trace.Tracer
	now      func() time.Time

	mu      sync.Mutex
	state   State
	pending *AuthorizationRequest

	// generation increments on sign-out; exchanges started in an older
	// generation do not store their result
	generation uint64

	unsubscribe func()
}

// NewManager creates a manager for provider writing into store
func NewManager(provider providers.Provider, store *credential.Store, cfg Config) (*Manager, error) {
	if provider == nil {
		return nil, errors.New("provider is required")
	}
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = security.DefaultRefreshThreshold
	}

	m := &Manager{
		provider: provider,
		store:    store,
		config:   cfg,
		logger:   cfg.Logger,
		auditor:  cfg.Auditor,
		inst:     cfg.Instrumentation,
		now:      time.Now,
		state:    Unauthenticated,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.inst != nil {
		m.tracer = m.inst.Tracer("flow")
	}
	if store.Authenticated() {
		m.state = Authenticated
	}

	m.unsubscribe = store.Subscribe(m.onCredentialChange)
	return m, nil
}

// Close detaches the manager from the credential store
func (m *Manager) Close() {
	m.unsubscribe()
}

// State returns the current login state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// onCredentialChange keeps the state in line with credentials set or cleared
// outside the flow (interceptor clears, restores).
func (m *Manager) onCredentialChange(c *credential.Credential) {
	m.mu.Lock()
	from := m.state
	switch {
	case c == nil && from == Authenticated:
		m.state = Unauthenticated
	case c != nil && from == Unauthenticated:
		m.state = Authenticated
	}
	to := m.state
	m.mu.Unlock()

	m.notify(from, to)
}

func (m *Manager) notify(from, to State) {
	if from != to && m.config.OnStateChange != nil {
		m.config.OnStateChange(from, to)
	}
}

// settledState is the state outside of a login round trip
func (m *Manager) settledState() State {
	if m.store.Authenticated() {
		return Authenticated
	}
	return Unauthenticated
}

func (m *Manager) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if m.tracer == nil {
		return ctx, nil
	}
	ctx, span := m.tracer.Start(ctx, name)
	instrumentation.AddProviderAttributes(span, m.provider.Name(), name)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}

// BeginLogin creates a new pending authorization request, replacing any earlier
// one, and returns the authorization URL. If a Redirector is configured the URL
// is handed to it as well. returnPath must be a local path; empty means "/".
func (m *Manager) BeginLogin(ctx context.Context, returnPath string) (authURL string, err error) {
	ctx, span := m.startSpan(ctx, "flow.BeginLogin")
	defer func() { endSpan(span, err) }()

	if returnPath == "" {
		returnPath = DefaultReturnPath
	}
	if !util.IsLocalPath(returnPath) {
		m.auditor.LogEvent(security.Event{
			Type:     security.EventInvalidReturnPath,
			Provider: m.provider.Name(),
			Details:  map[string]any{"return_path": util.SafeTruncate(returnPath, 128)},
		})
		return "", fmt.Errorf("%w: %q", ErrInvalidReturnPath, returnPath)
	}

	state, err := generateState()
	if err != nil {
		return "", err
	}

	verifier := oauth2.GenerateVerifier()
	now := m.now()
	req := &AuthorizationRequest{
		State:         state,
		CodeVerifier:  verifier,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
		ReturnPath:    returnPath,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.config.PendingTTL),
	}

	authURL = m.provider.AuthorizationURL(req.State, req.CodeChallenge, PKCEMethodS256)

	m.mu.Lock()
	from := m.state
	m.pending = req
	m.state = AuthorizationRequested
	m.mu.Unlock()
	m.notify(from, AuthorizationRequested)

	instrumentation.AddPKCEAttributes(span, PKCEMethodS256)
	m.auditor.LogLoginStarted(m.provider.Name(), returnPath)
	if m.inst != nil {
		m.inst.Metrics().RecordLoginStarted(ctx, m.provider.Name())
	}
	m.logger.Debug("Login started", "provider", m.provider.Name(), "return_path", returnPath)

	if m.config.Redirector != nil {
		if err := m.config.Redirector.Redirect(ctx, authURL); err != nil {
			m.abandon(req)
			return "", fmt.Errorf("failed to redirect to identity provider: %w", err)
		}
	}

	// The URL has been handed off; the next event is the callback
	m.mu.Lock()
	changed := m.pending == req && m.state == AuthorizationRequested
	if changed {
		m.state = CallbackPending
	}
	m.mu.Unlock()
	if changed {
		m.notify(AuthorizationRequested, CallbackPending)
	}

	return authURL, nil
}

// abandon drops req if it is still the pending request
func (m *Manager) abandon(req *AuthorizationRequest) {
	m.mu.Lock()
	if m.pending != req {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.pending = nil
	m.state = m.settledState()
	to := m.state
	m.mu.Unlock()
	m.notify(from, to)
}

// consume takes the pending request out of the manager. It returns nil when
// there is none.
func (m *Manager) consume() (*AuthorizationRequest, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req := m.pending
	m.pending = nil
	return req, m.generation
}

// fail settles the state after a failed callback and records it
func (m *Manager) fail(ctx context.Context, eventType, reason string, err error) error {
	m.mu.Lock()
	from := m.state
	if m.pending == nil {
		m.state = m.settledState()
	}
	to := m.state
	m.mu.Unlock()
	m.notify(from, to)

	m.auditor.LogEvent(security.Event{
		Type:     eventType,
		Provider: m.provider.Name(),
		Details:  map[string]any{"reason": reason},
	})
	if m.inst != nil {
		m.inst.Metrics().RecordCallbackProcessed(ctx, m.provider.Name(), false)
	}
	m.logger.Warn("Login callback failed", "provider", m.provider.Name(), "reason", reason)
	return err
}

// CompleteLogin handles the identity provider callback. It consumes the pending
// request exactly once regardless of outcome, verifies the state, exchanges the
// code with the stored verifier and stores the credential. On success it returns
// the return path given to BeginLogin. On failure the credential store is left
// untouched.
func (m *Manager) CompleteLogin(ctx context.Context, params CallbackParams) (returnPath string, err error) {
	ctx, span := m.startSpan(ctx, "flow.CompleteLogin")
	defer func() { endSpan(span, err) }()

	req, generation := m.consume()
	if req == nil {
		return "", m.fail(ctx, security.EventCallbackRejected, "no pending authorization request",
			validationError("no pending authorization request"))
	}

	if params.State == "" || subtle.ConstantTimeCompare([]byte(params.State), []byte(req.State)) != 1 {
		return "", m.fail(ctx, security.EventCallbackRejected, "state mismatch",
			validationError("state mismatch"))
	}

	if m.now().After(req.ExpiresAt) {
		return "", m.fail(ctx, security.EventCallbackRejected, "authorization request expired",
			validationError("authorization request expired"))
	}

	if params.Error != "" {
		providerErr := &ProviderError{Code: params.Error, Description: params.ErrorDescription}
		return "", m.fail(ctx, security.EventProviderError, params.Error, providerErr)
	}

	if params.Code == "" {
		return "", m.fail(ctx, security.EventCallbackRejected, "missing authorization code",
			validationError("missing authorization code"))
	}

	token, err := m.provider.ExchangeCode(ctx, params.Code, req.CodeVerifier)
	if m.inst != nil {
		m.inst.Metrics().RecordCodeExchange(ctx, m.provider.Name(), PKCEMethodS256, err == nil)
	}
	if err != nil {
		return "", m.fail(ctx, security.EventCodeExchangeFailed, "token exchange failed", exchangeError(err))
	}

	info, err := m.provider.Identity(ctx, token)
	if err != nil {
		return "", m.fail(ctx, security.EventCodeExchangeFailed, "identity claims rejected",
			fmt.Errorf("%w: %v", ErrExchangeFailure, err))
	}

	c := credential.FromToken(token, claimsFromUserInfo(info))

	// SignOut bumps the generation before clearing the store, so checking it
	// inside the store's write keeps a sign-out from being overtaken.
	stored := m.store.SetIf(c, func(*credential.Credential) bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.generation == generation
	})
	if !stored {
		return "", m.fail(ctx, security.EventCallbackRejected, "signed out during login",
			fmt.Errorf("%w: login superseded by sign-out", ErrExchangeFailure))
	}

	m.mu.Lock()
	from := m.state
	if m.pending == nil {
		m.state = Authenticated
	}
	to := m.state
	m.mu.Unlock()
	m.notify(from, to)

	instrumentation.AddLoginAttributes(span, m.provider.Name(), c.Claims.Subject, c.Scope)
	m.auditor.LogCredentialIssued(c.Claims.Subject, m.provider.Name(), c.Scope)
	if m.inst != nil {
		m.inst.Metrics().RecordCallbackProcessed(ctx, m.provider.Name(), true)
	}
	m.logger.Info("Login completed", "provider", m.provider.Name(), "expiry", c.Expiry)

	return req.ReturnPath, nil
}

// exchangeError classifies a token endpoint failure
func exchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
		return &ProviderError{Code: retrieveErr.ErrorCode, Description: retrieveErr.ErrorDescription}
	}
	return fmt.Errorf("%w: %v", ErrExchangeFailure, err)
}

// Refresh replaces the credential using its refresh token. When the provider
// rejects the refresh, the credential is cleared and the returned error wraps
// credential.ErrAuthenticationExpired.
func (m *Manager) Refresh(ctx context.Context) (err error) {
	ctx, span := m.startSpan(ctx, "flow.Refresh")
	defer func() { endSpan(span, err) }()

	current := m.store.Get()
	if current == nil {
		return credential.ErrAuthenticationRequired
	}
	if !current.HasRefreshToken() {
		if security.IsExpiredWithGracePeriod(current.Expiry, m.now(), security.DefaultClockSkewGracePeriod) {
			m.expire(ctx, current, "expired without refresh token")
		}
		return fmt.Errorf("%w: no refresh token", credential.ErrAuthenticationExpired)
	}

	token, err := m.provider.RefreshToken(ctx, current.RefreshToken)
	if m.inst != nil {
		m.inst.Metrics().RecordTokenRefresh(ctx, m.provider.Name(), err == nil)
	}
	if err != nil {
		m.expire(ctx, current, "refresh rejected")
		return fmt.Errorf("%w: %v", credential.ErrAuthenticationExpired, err)
	}

	claims := current.Claims
	if idToken, _ := token.Extra("id_token").(string); idToken != "" {
		info, err := m.provider.Identity(ctx, token)
		if err != nil {
			m.expire(ctx, current, "refreshed identity rejected")
			return fmt.Errorf("%w: %v", credential.ErrAuthenticationExpired, err)
		}
		claims = claimsFromUserInfo(info)
	}

	next := credential.FromToken(token, claims)
	if next.Scope == "" {
		next.Scope = current.Scope
	}

	// A sign-out or new login while refreshing wins
	if !m.store.CompareAndSwap(current.AccessToken, next) {
		m.logger.Debug("Refreshed credential discarded, credential changed meanwhile")
		return nil
	}

	m.auditor.LogEvent(security.Event{
		Type:     security.EventCredentialRefreshed,
		Subject:  next.Claims.Subject,
		Provider: m.provider.Name(),
	})
	m.logger.Debug("Credential refreshed", "expiry", next.Expiry)
	return nil
}

// EnsureFresh refreshes the credential if it expires within the refresh threshold
func (m *Manager) EnsureFresh(ctx context.Context) error {
	current := m.store.Get()
	if current == nil {
		return credential.ErrAuthenticationRequired
	}
	if current.Expiry.IsZero() || !security.IsExpiringSoon(current.Expiry, m.now(), m.config.RefreshThreshold) {
		return nil
	}
	return m.Refresh(ctx)
}

// expire clears current if it is still held
func (m *Manager) expire(ctx context.Context, current *credential.Credential, reason string) {
	if !m.store.CompareAndClear(current.AccessToken) {
		return
	}
	m.auditor.LogEvent(security.Event{
		Type:     security.EventRefreshFailed,
		Subject:  current.Claims.Subject,
		Provider: m.provider.Name(),
		Details:  map[string]any{"reason": reason},
	})
	if m.inst != nil {
		m.inst.Metrics().RecordCredentialCleared(ctx, "refresh_failed")
	}
	m.logger.Info("Credential dropped", "reason", reason)
}

// SignOut clears the credential and any pending login, then revokes the tokens at
// the provider. Revocation is best effort: failures are logged, not returned.
func (m *Manager) SignOut(ctx context.Context) {
	ctx, span := m.startSpan(ctx, "flow.SignOut")
	defer func() { endSpan(span, nil) }()

	m.mu.Lock()
	m.pending = nil
	m.generation++
	m.mu.Unlock()

	current := m.store.Get()
	m.store.Set(nil)

	// Settles a pending login that had no credential to clear
	m.mu.Lock()
	from := m.state
	m.state = m.settledState()
	to := m.state
	m.mu.Unlock()
	m.notify(from, to)

	if m.inst != nil {
		m.inst.Metrics().RecordSignOut(ctx)
	}
	if current == nil {
		return
	}
	m.auditor.LogSignedOut(current.Claims.Subject, m.provider.Name())

	for _, token := range []string{current.RefreshToken, current.AccessToken} {
		if token == "" {
			continue
		}
		if err := m.provider.RevokeToken(ctx, token); err != nil {
			m.logger.Warn("Token revocation failed", "provider", m.provider.Name(), "error", err)
			m.auditor.LogEvent(security.Event{
				Type:     security.EventRevocationFailed,
				Subject:  current.Claims.Subject,
				Provider: m.provider.Name(),
			})
		}
	}
}

// Pending returns a copy of the pending authorization request, if any
func (m *Manager) Pending() (AuthorizationRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return AuthorizationRequest{}, false
	}
	return *m.pending, true
}

func claimsFromUserInfo(info *providers.UserInfo) credential.Claims {
	if info == nil {
		return credential.Claims{}
	}
	return credential.Claims{
		Subject:       info.ID,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
		Groups:        info.Groups,
	}
}

// generateState returns a random anti-CSRF state value
func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
