// Package console is the client-side session core of the console: OIDC login
// with PKCE, bearer credentials on every API call, and a cache of organizations
// and projects kept consistent under optimistic writes.
//
// A Session wires the components together around one credential store:
//
//	credential.Store   the current credential, with change notification
//	authn              attaches the credential to calls and clears it when the server rejects it
//	flow.Manager       authorization redirect, callback validation, code exchange, refresh, sign-out
//	query.Cache        keyed cache of server responses with subscriptions and invalidation
//	mutation           optimistic edits, rollback on failure, invalidation on success
//	resources          organizations and projects on top of the above
//
// # Quick Start
//
//	session, err := console.New(ctx, console.Config{
//		Provider: console.ProviderConfig{
//			IssuerURL:   "https://dex.example.com",
//			ClientID:    "console",
//			RedirectURL: "http://127.0.0.1:8085/callback",
//		},
//		API: console.APIConfig{BaseURL: "https://api.example.com"},
//	})
//	if err != nil {
//		return err
//	}
//	defer session.Close(ctx)
//
//	authURL, err := session.Login(ctx, "/organizations")
//	// send the user to authURL, then with the callback URL:
//	returnPath, err := session.HandleCallback(ctx, callbackURL)
//
//	orgs, err := session.Organizations.List(ctx)
//	_, err = session.Organizations.Delete(ctx, "acme").Wait(ctx)
//
// Errors carry sentinels for errors.Is; ErrorCode maps them to stable strings
// for rendering.
//
// # Security
//
// Credentials live in memory only. Persist and Restore exchange an AES-256-GCM
// sealed credential with an external persister; the sealing key comes from
// Config.Security. Cached data is dropped whenever the credential is cleared or
// a different user signs in.
package console
