package console

import (
	"errors"

	"github.com/giantswarm/console-core/credential"
	"github.com/giantswarm/console-core/flow"
	"github.com/giantswarm/console-core/mutation"
	"github.com/giantswarm/console-core/query"
	"github.com/giantswarm/console-core/rpc"
)

// Stable error codes for rendering failures to users
const (
	ErrorCodeAuthenticationRequired = "authentication_required"
	ErrorCodeAuthenticationExpired  = "authentication_expired"
	ErrorCodeCallbackValidation     = "callback_validation_failed"
	ErrorCodeExchangeFailure        = "exchange_failed"
	ErrorCodeInvalidReturnPath      = "invalid_return_path"
	ErrorCodeMutationFailure        = "mutation_failed"
	ErrorCodeFetchCanceled          = "fetch_canceled"
	ErrorCodePersistenceDisabled    = "persistence_disabled"
)

// ErrPersistenceDisabled is returned by Persist and Restore when no sealing key
// is configured
var ErrPersistenceDisabled = errors.New("credential persistence is disabled")

// ErrorCode classifies err for the UI layer. Authentication failures win over
// mutation failures, so a write rejected for an expired credential renders as
// "authentication_expired". Other RPC failures return their rpc.Code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return string(rpc.CodeOK)
	case errors.Is(err, credential.ErrAuthenticationExpired):
		return ErrorCodeAuthenticationExpired
	case errors.Is(err, credential.ErrAuthenticationRequired):
		return ErrorCodeAuthenticationRequired
	case errors.Is(err, flow.ErrCallbackValidation):
		return ErrorCodeCallbackValidation
	case errors.Is(err, flow.ErrExchangeFailure):
		return ErrorCodeExchangeFailure
	case errors.Is(err, flow.ErrInvalidReturnPath):
		return ErrorCodeInvalidReturnPath
	case errors.Is(err, mutation.ErrMutationFailed):
		return ErrorCodeMutationFailure
	case errors.Is(err, query.ErrFetchCanceled):
		return ErrorCodeFetchCanceled
	case errors.Is(err, ErrPersistenceDisabled):
		return ErrorCodePersistenceDisabled
	default:
		return string(rpc.CodeOf(err))
	}
}
