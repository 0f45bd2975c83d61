// Package credential holds the session's bearer credential.
//
// A Store is the single authoritative holder of the current Credential. The
// absence of a credential is a valid state (unauthenticated), not an error.
// Subscribers are notified synchronously, in order, on every change.
//
// Example:
//
//	store := credential.NewStore()
//	unsubscribe := store.Subscribe(func(c *credential.Credential) {
//	    if c == nil {
//	        log.Println("signed out")
//	    }
//	})
//	defer unsubscribe()
//
//	store.Set(&credential.Credential{AccessToken: "abc", TokenType: "Bearer"})
package credential
