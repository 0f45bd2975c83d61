package security

// Event type constants for security audit logging.
const (
	// Login flow events

	// EventLoginStarted is logged when an authorization request is built and handed to the user agent
	EventLoginStarted = "login_started"

	// EventCallbackRejected is logged when a callback fails validation (state mismatch, stale or missing request)
	EventCallbackRejected = "callback_rejected"

	// EventProviderError is logged when the identity provider returns an error on the callback
	EventProviderError = "provider_error"

	// EventCodeExchangeFailed is logged when the code-for-token exchange fails
	EventCodeExchangeFailed = "code_exchange_failed"

	// EventInvalidReturnPath is logged when a login is started with a non-local return path
	EventInvalidReturnPath = "invalid_return_path"

	// Credential lifecycle events

	// EventCredentialIssued is logged when a credential is stored after a successful exchange
	EventCredentialIssued = "credential_issued" //nolint:gosec // G101: event type name, not a credential

	// EventCredentialRefreshed is logged when a credential is replaced by a refresh
	EventCredentialRefreshed = "credential_refreshed" //nolint:gosec // G101: event type name, not a credential

	// EventCredentialRestored is logged when a credential is seeded from a persisted value
	EventCredentialRestored = "credential_restored" //nolint:gosec // G101: event type name, not a credential

	// EventCredentialExpired is logged when the server rejects a presented credential
	EventCredentialExpired = "credential_expired" //nolint:gosec // G101: event type name, not a credential

	// EventRefreshFailed is logged when a refresh attempt fails and the credential is dropped
	EventRefreshFailed = "refresh_failed"

	// EventSignedOut is logged on explicit sign-out
	EventSignedOut = "signed_out"

	// EventRevocationFailed is logged when best-effort revocation at the provider fails
	EventRevocationFailed = "revocation_failed"
)
