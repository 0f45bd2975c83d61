package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/giantswarm/console-core/authn"
	"github.com/giantswarm/console-core/credential"
	"github.com/giantswarm/console-core/flow"
	"github.com/giantswarm/console-core/instrumentation"
	"github.com/giantswarm/console-core/mutation"
	"github.com/giantswarm/console-core/providers"
	"github.com/giantswarm/console-core/providers/dex"
	"github.com/giantswarm/console-core/providers/oidc"
	"github.com/giantswarm/console-core/query"
	"github.com/giantswarm/console-core/resources"
	"github.com/giantswarm/console-core/rpc"
	"github.com/giantswarm/console-core/security"
)

// Session is one user's console session: the credential store, the login flow,
// the authenticated API client and the data cache. All components share the
// session's single credential store.
type Session struct {
	// Organizations and Projects read and write console resources
	Organizations *resources.Organizations
	Projects      *resources.Projects

	config       Config
	logger       *slog.Logger
	provider     providers.Provider
	store        *credential.Store
	flow         *flow.Manager
	client       *rpc.Client
	cache        *query.Cache
	orchestrator *mutation.Orchestrator
	encryptor    *security.Encryptor
	auditor      *security.Auditor

	inst     *instrumentation.Instrumentation
	ownsInst bool

	mu          sync.Mutex
	subject     string
	unsubscribe func()
	closeOnce   sync.Once
}

// Option configures a Session beyond Config
type Option func(*sessionOptions)

type sessionOptions struct {
	inst         *instrumentation.Instrumentation
	redirector   flow.Redirector
	stateChanges flow.StateListener
	transport    rpc.UnaryFunc
	interceptors []rpc.Interceptor
}

// WithInstrumentation uses an existing instrumentation instead of creating one
// from Config.Instrumentation
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(o *sessionOptions) {
		o.inst = inst
	}
}

// WithRedirector hands authorization URLs to r when a login starts
func WithRedirector(r flow.Redirector) Option {
	return func(o *sessionOptions) {
		o.redirector = r
	}
}

// WithStateListener observes login state transitions
func WithStateListener(fn flow.StateListener) Option {
	return func(o *sessionOptions) {
		o.stateChanges = fn
	}
}

// WithTransport replaces the JSON-over-HTTP transport, e.g. with an in-process server
func WithTransport(transport rpc.UnaryFunc) Option {
	return func(o *sessionOptions) {
		o.transport = transport
	}
}

// WithInterceptors adds interceptors inside the authentication interceptor, so
// they see the Authorization header
func WithInterceptors(interceptors ...rpc.Interceptor) Option {
	return func(o *sessionOptions) {
		o.interceptors = append(o.interceptors, interceptors...)
	}
}

// New creates a session for the identity provider selected by cfg.Provider.Type.
// Discovery runs against the issuer, so ctx bounds a network round trip.
func New(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = cfg.applyDefaults()

	sessionOpts := resolveOptions(opts)
	inst, owns, err := resolveInstrumentation(cfg, sessionOpts)
	if err != nil {
		return nil, err
	}

	provider, err := newProvider(ctx, cfg, inst)
	if err != nil {
		if owns {
			_ = inst.Shutdown(ctx)
		}
		return nil, fmt.Errorf("failed to create identity provider: %w", err)
	}

	return newSession(provider, cfg, sessionOpts, inst, owns)
}

// newProvider builds the identity provider named by cfg.Provider.Type
func newProvider(ctx context.Context, cfg Config, inst *instrumentation.Instrumentation) (providers.Provider, error) {
	pc := cfg.Provider
	if pc.Type == ProviderTypeDex {
		return dex.NewProvider(ctx, &dex.Config{
			IssuerURL:          pc.IssuerURL,
			ClientID:           pc.ClientID,
			ClientSecret:       pc.ClientSecret,
			RedirectURL:        pc.RedirectURL,
			ConnectorID:        pc.ConnectorID,
			Scopes:             pc.Scopes,
			HTTPClient:         cfg.HTTPClient,
			RequestTimeout:     pc.RequestTimeout,
			AllowPrivateIssuer: pc.AllowPrivateIssuer,
			Logger:             cfg.Logger,
			Instrumentation:    inst,
		})
	}
	return oidc.NewProvider(ctx, &oidc.Config{
		IssuerURL:          pc.IssuerURL,
		ClientID:           pc.ClientID,
		ClientSecret:       pc.ClientSecret,
		RedirectURL:        pc.RedirectURL,
		ConnectorID:        pc.ConnectorID,
		Scopes:             pc.Scopes,
		HTTPClient:         cfg.HTTPClient,
		RequestTimeout:     pc.RequestTimeout,
		AllowPrivateIssuer: pc.AllowPrivateIssuer,
		Logger:             cfg.Logger,
		Instrumentation:    inst,
	})
}

// NewWithProvider creates a session for a custom identity provider. Provider
// settings in cfg are ignored.
func NewWithProvider(provider providers.Provider, cfg Config, opts ...Option) (*Session, error) {
	if provider == nil {
		return nil, errors.New("provider is required")
	}
	if cfg.API.BaseURL == "" {
		return nil, errors.New("invalid configuration: api.base_url is required")
	}
	cfg = cfg.applyDefaults()

	sessionOpts := resolveOptions(opts)
	inst, owns, err := resolveInstrumentation(cfg, sessionOpts)
	if err != nil {
		return nil, err
	}
	return newSession(provider, cfg, sessionOpts, inst, owns)
}

func resolveOptions(opts []Option) *sessionOptions {
	o := &sessionOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func resolveInstrumentation(cfg Config, o *sessionOptions) (*instrumentation.Instrumentation, bool, error) {
	if o.inst != nil {
		return o.inst, false, nil
	}
	if !cfg.Instrumentation.Enabled {
		return nil, false, nil
	}
	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    cfg.Instrumentation.ServiceName,
		ServiceVersion: cfg.Instrumentation.ServiceVersion,
		Enabled:        true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create instrumentation: %w", err)
	}
	return inst, true, nil
}

func newSession(provider providers.Provider, cfg Config, o *sessionOptions, inst *instrumentation.Instrumentation, owns bool) (_ *Session, err error) {
	defer func() {
		if err != nil && owns {
			_ = inst.Shutdown(context.Background())
		}
	}()

	s := &Session{
		config:   cfg,
		logger:   cfg.Logger,
		provider: provider,
		auditor:  security.NewAuditor(cfg.Logger, cfg.Security.EnableAuditLogging),
		inst:     inst,
		ownsInst: owns,
	}

	key, err := cfg.sealingKey()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sealing key: %w", err)
	}
	if key != nil {
		s.encryptor, err = security.NewEncryptor(key, "console-credential")
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
	}

	s.cache = query.New(query.WithLogger(cfg.Logger), query.WithInstrumentation(inst))
	s.orchestrator = mutation.New(s.cache, mutation.WithLogger(cfg.Logger), mutation.WithInstrumentation(inst))

	s.store = credential.NewStore(credential.WithLogger(cfg.Logger))
	s.unsubscribe = s.store.Subscribe(s.onCredentialChange)

	s.flow, err = flow.NewManager(provider, s.store, flow.Config{
		PendingTTL:       cfg.Session.PendingLoginTTL,
		RefreshThreshold: cfg.Session.RefreshThreshold,
		Redirector:       o.redirector,
		OnStateChange:    o.stateChanges,
		Logger:           cfg.Logger,
		Auditor:          s.auditor,
		Instrumentation:  inst,
	})
	if err != nil {
		s.unsubscribe()
		return nil, fmt.Errorf("failed to create login flow: %w", err)
	}

	interceptors := make([]rpc.Interceptor, 0, len(o.interceptors)+3)
	interceptors = append(interceptors, rpc.RequestIDInterceptor())
	if cfg.Session.AutoRefresh {
		interceptors = append(interceptors, s.refreshInterceptor)
	}
	interceptors = append(interceptors, authn.NewInterceptor(s.store,
		authn.WithLogger(cfg.Logger),
		authn.WithAuditor(s.auditor),
		authn.WithInstrumentation(inst),
		authn.RequireCredential(cfg.API.RequireCredential...),
	))
	interceptors = append(interceptors, o.interceptors...)

	clientOpts := []rpc.ClientOption{
		rpc.WithInterceptors(interceptors...),
		rpc.WithLogger(cfg.Logger),
		rpc.WithInstrumentation(inst),
		rpc.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
	}
	if cfg.HTTPClient != nil {
		clientOpts = append(clientOpts, rpc.WithHTTPClient(cfg.HTTPClient))
	} else {
		clientOpts = append(clientOpts, rpc.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}))
	}
	if o.transport != nil {
		s.client = rpc.NewClientWithTransport(o.transport, clientOpts...)
	} else {
		s.client = rpc.NewClient(cfg.API.BaseURL, clientOpts...)
	}

	s.Organizations = resources.NewOrganizations(s.client, s.orchestrator)
	s.Projects = resources.NewProjects(s.client, s.orchestrator)

	s.logger.Debug("Console session created", "provider", provider.Name(), "api", cfg.API.BaseURL)
	return s, nil
}

// onCredentialChange drops cached data when the credential is cleared or a
// different user signs in
func (s *Session) onCredentialChange(c *credential.Credential) {
	s.mu.Lock()
	previous := s.subject
	next := ""
	if c != nil {
		next = c.Claims.Subject
	}
	s.subject = next
	s.mu.Unlock()

	if c == nil || (previous != "" && previous != next) {
		s.cache.Clear()
	}
}

// refreshInterceptor refreshes an expiring credential before dispatch. A failed
// refresh clears the credential; the call then proceeds unauthenticated and the
// authentication interceptor reports the outcome.
func (s *Session) refreshInterceptor(next rpc.UnaryFunc) rpc.UnaryFunc {
	return func(ctx context.Context, req *rpc.Request, out any) error {
		if s.store.Authenticated() {
			if err := s.flow.EnsureFresh(ctx); err != nil {
				s.logger.Debug("Credential refresh before call failed", "procedure", req.Procedure, "error", err)
			}
		}
		return next(ctx, req, out)
	}
}

// Store returns the session's credential store
func (s *Session) Store() *credential.Store {
	return s.store
}

// Flow returns the login flow manager
func (s *Session) Flow() *flow.Manager {
	return s.flow
}

// Client returns the authenticated API client
func (s *Session) Client() *rpc.Client {
	return s.client
}

// Cache returns the data cache
func (s *Session) Cache() *query.Cache {
	return s.cache
}

// Orchestrator returns the mutation orchestrator
func (s *Session) Orchestrator() *mutation.Orchestrator {
	return s.orchestrator
}

// Provider returns the identity provider
func (s *Session) Provider() providers.Provider {
	return s.provider
}

// Credential returns a copy of the current credential, or nil
func (s *Session) Credential() *credential.Credential {
	return s.store.Get()
}

// Authenticated reports whether a credential is held
func (s *Session) Authenticated() bool {
	return s.store.Authenticated()
}

// State returns the login state
func (s *Session) State() flow.State {
	return s.flow.State()
}

// Login starts a login and returns the authorization URL
func (s *Session) Login(ctx context.Context, returnPath string) (string, error) {
	return s.flow.BeginLogin(ctx, returnPath)
}

// HandleCallback completes a login from the callback URL the identity provider
// redirected to, and returns the path to continue at
func (s *Session) HandleCallback(ctx context.Context, callbackURL string) (string, error) {
	params, err := flow.ParseCallbackURL(callbackURL)
	if err != nil {
		return "", err
	}
	return s.flow.CompleteLogin(ctx, params)
}

// Refresh exchanges the refresh token for a new credential
func (s *Session) Refresh(ctx context.Context) error {
	return s.flow.Refresh(ctx)
}

// SignOut clears the credential and cached data and revokes the tokens
func (s *Session) SignOut(ctx context.Context) {
	s.flow.SignOut(ctx)
}

// Persist seals the current credential for an external persister
func (s *Session) Persist() (string, error) {
	if s.encryptor == nil {
		return "", ErrPersistenceDisabled
	}
	c := s.store.Get()
	if c == nil {
		return "", credential.ErrAuthenticationRequired
	}
	return credential.Seal(s.encryptor, c)
}

// Restore seeds the store from a value produced by Persist, without network I/O
func (s *Session) Restore(sealed string) error {
	if s.encryptor == nil {
		return ErrPersistenceDisabled
	}
	c, err := credential.Open(s.encryptor, sealed)
	if err != nil {
		return fmt.Errorf("failed to restore credential: %w", err)
	}
	s.store.Set(c)
	s.logger.Debug("Credential restored", "expiry", c.Expiry)
	return nil
}

// Close detaches the session's components and shuts down instrumentation it created
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.cache.Clear()
		s.flow.Close()
		s.unsubscribe()
		if s.ownsInst {
			err = s.inst.Shutdown(ctx)
		}
	})
	return err
}
