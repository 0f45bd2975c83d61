package authn

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/giantswarm/console-core/credential"
	"github.com/giantswarm/console-core/instrumentation"
	"github.com/giantswarm/console-core/rpc"
	"github.com/giantswarm/console-core/security"
)

// AuthorizationHeader is the request header carrying the bearer credential
const AuthorizationHeader = "Authorization"

// Option configures the interceptor
type Option func(*interceptor)

type interceptor struct {
	store           *credential.Store
	logger          *slog.Logger
	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
	required        map[string]bool
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(i *interceptor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithAuditor records credential expiry as a security event
func WithAuditor(auditor *security.Auditor) Option {
	return func(i *interceptor) {
		i.auditor = auditor
	}
}

// WithInstrumentation counts cleared credentials
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(i *interceptor) {
		i.instrumentation = inst
	}
}

// RequireCredential fails calls to the listed procedures before dispatch when no
// credential is held.
func RequireCredential(procedures ...string) Option {
	return func(i *interceptor) {
		for _, p := range procedures {
			i.required[p] = true
		}
	}
}

// NewInterceptor returns an interceptor attaching "Authorization: Bearer <token>"
// when store holds a credential, and leaving the header absent otherwise.
func NewInterceptor(store *credential.Store, opts ...Option) rpc.Interceptor {
	i := &interceptor{
		store:    store,
		logger:   slog.Default(),
		required: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(i)
	}

	return func(next rpc.UnaryFunc) rpc.UnaryFunc {
		return func(ctx context.Context, req *rpc.Request, out any) error {
			return i.intercept(ctx, req, out, next)
		}
	}
}

func (i *interceptor) intercept(ctx context.Context, req *rpc.Request, out any, next rpc.UnaryFunc) error {
	current := i.store.Get()
	if current == nil {
		req.Header.Del(AuthorizationHeader)
		if i.required[req.Procedure] {
			return fmt.Errorf("%s: %w", req.Procedure, credential.ErrAuthenticationRequired)
		}
	} else {
		req.Header.Set(AuthorizationHeader, current.AuthorizationHeader())
	}

	err := next(ctx, req, out)
	if err == nil || rpc.CodeOf(err) != rpc.CodeUnauthenticated {
		return err
	}

	if current == nil {
		return &authError{sentinel: credential.ErrAuthenticationRequired, procedure: req.Procedure, cause: err}
	}

	// Only the credential that was sent is cleared; a newer one set while the call
	// was in flight stays.
	if i.store.CompareAndClear(current.AccessToken) {
		i.logger.Info("Credential rejected by server, cleared",
			"procedure", req.Procedure,
			"subject", current.Claims.Subject)
		i.auditor.LogCredentialExpired(current.Claims.Subject, req.Procedure)
		if i.instrumentation != nil {
			i.instrumentation.Metrics().RecordCredentialCleared(ctx, "unauthenticated")
		}
	}

	return &authError{sentinel: credential.ErrAuthenticationExpired, procedure: req.Procedure, cause: err}
}

// authError carries both the authentication sentinel and the RPC failure
type authError struct {
	sentinel  error
	procedure string
	cause     error
}

func (e *authError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.procedure, e.sentinel, e.cause)
}

func (e *authError) Unwrap() []error {
	return []error{e.sentinel, e.cause}
}
