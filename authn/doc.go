// Package authn provides the RPC interceptor that attaches the session credential
// to outgoing calls.
//
// The interceptor reads the credential store at dispatch time, so calls made after
// sign-in carry the new credential without rebuilding the client. It never retries
// and never refreshes: an unauthenticated response clears the credential that was
// sent (if it is still current) and surfaces credential.ErrAuthenticationExpired,
// forcing a new login.
package authn
