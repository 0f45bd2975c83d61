package credential

import "errors"

var (
	// ErrAuthenticationRequired is returned when a call needs a credential and none is held.
	// Callers should start a new login.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrAuthenticationExpired is returned when the server rejected a presented credential.
	// The credential has been cleared and a new login is required.
	ErrAuthenticationExpired = errors.New("authentication expired")
)
