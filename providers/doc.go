// Package providers defines the identity provider interface used by the login flow
// and the UserInfo type carrying identity claims.
//
// Implementations are provided in subpackages:
//   - providers/oidc: generic OpenID Connect provider with discovery, ID-token claims,
//     refresh, revocation and health checks (works with Dex, Keycloak, Okta and others)
//   - providers/dex: Dex provider on top of providers/oidc (connector_id,
//     offline_access always requested, rotated refresh tokens)
//   - providers/mock: mock provider for testing
//
// Example usage:
//
//	provider, err := oidc.NewProvider(&oidc.Config{
//	    IssuerURL:   "https://dex.example.com",
//	    ClientID:    "console",
//	    RedirectURL: "https://console.example.com/oauth/callback",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	manager, _ := flow.NewManager(provider, store, flow.Config{})
package providers
