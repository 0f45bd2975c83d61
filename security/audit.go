package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	now     func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Subject   string
	Provider  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with the subject hashed. A nil Auditor is a no-op.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"provider", event.Provider,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogLoginStarted logs the start of a login flow
func (a *Auditor) LogLoginStarted(provider, returnPath string) {
	a.LogEvent(Event{
		Type:     EventLoginStarted,
		Provider: provider,
		Details: map[string]any{
			"return_path": returnPath,
		},
	})
}

// LogCallbackRejected logs a callback that failed validation
func (a *Auditor) LogCallbackRejected(provider, reason string) {
	a.LogEvent(Event{
		Type:     EventCallbackRejected,
		Provider: provider,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogCredentialIssued logs when a credential is stored after login
func (a *Auditor) LogCredentialIssued(subject, provider, scope string) {
	a.LogEvent(Event{
		Type:     EventCredentialIssued,
		Subject:  subject,
		Provider: provider,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogCredentialExpired logs when the server rejected a presented credential
func (a *Auditor) LogCredentialExpired(subject, procedure string) {
	a.LogEvent(Event{
		Type:    EventCredentialExpired,
		Subject: subject,
		Details: map[string]any{
			"procedure": procedure,
		},
	})
}

// LogSignedOut logs an explicit sign-out
func (a *Auditor) LogSignedOut(subject, provider string) {
	a.LogEvent(Event{
		Type:     EventSignedOut,
		Subject:  subject,
		Provider: provider,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
