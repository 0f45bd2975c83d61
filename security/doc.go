// Package security provides security-related functionality for the console core,
// including credential sealing, expiry checks, and audit logging.
//
// # Credential Sealing
//
// The Encryptor seals values with AES-256-GCM. It is used to hand a credential to an
// external persister and to restore it later without a network round trip:
//
//	key, err := security.DeriveKey([]byte(passphrase), []byte("consolectl"))
//	if err != nil {
//	    return err
//	}
//	enc, err := security.NewEncryptor(key)
//	if err != nil {
//	    return err
//	}
//	sealed, err := enc.Seal(plaintext)
//
// # Audit Logging
//
// The Auditor emits structured slog records for security-relevant session events
// (login started, callback rejected, credential issued, credential expired, sign-out).
// Subject identifiers are hashed before logging.
package security
