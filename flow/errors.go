package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrCallbackValidation is returned when a callback does not match the pending
	// authorization request (state mismatch, no pending request, expired request,
	// missing code). The user must restart the login.
	ErrCallbackValidation = errors.New("callback validation failed")

	// ErrExchangeFailure is returned when the identity provider rejected the login
	// or the code-for-token exchange failed. The user must restart the login.
	ErrExchangeFailure = errors.New("authorization code exchange failed")

	// ErrInvalidReturnPath is returned by BeginLogin for return paths that are not
	// local to the console
	ErrInvalidReturnPath = errors.New("invalid return path")
)

// ProviderError is an OAuth error reported by the identity provider, either on
// the callback or by the token endpoint
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("identity provider error: %s", e.Code)
	}
	return fmt.Sprintf("identity provider error: %s: %s", e.Code, e.Description)
}

// Unwrap classifies provider errors as exchange failures
func (e *ProviderError) Unwrap() error {
	return ErrExchangeFailure
}

// validationError wraps ErrCallbackValidation with a reason
func validationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrCallbackValidation, reason)
}
