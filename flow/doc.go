// Package flow implements the OIDC Authorization Code flow with PKCE for the
// console session.
//
// A Manager owns a single pending authorization request at a time. BeginLogin
// creates it (code verifier, S256 challenge, anti-CSRF state, return path) and
// hands the authorization URL to the user agent; CompleteLogin consumes it exactly
// once, checks the returned state, exchanges the code and verifier for tokens and
// stores the resulting credential. Failed callbacks never touch the credential
// store.
//
// States:
//
//	Unauthenticated -> AuthorizationRequested -> CallbackPending -> Authenticated
//	CallbackPending -> Unauthenticated      (callback failure)
//	Authenticated   -> Unauthenticated      (sign-out, irrecoverable expiry)
//
// The code verifier never leaves the process except in the token request.
package flow
