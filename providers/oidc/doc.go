// Package oidc implements a generic OpenID Connect identity provider for the
// console login flow, together with discovery and input validation helpers.
//
// # Security Features
//
//   - SSRF protection for issuer URLs (blocks private IPs, localhost, link-local)
//     unless private issuers are explicitly allowed
//   - HTTPS enforcement for the issuer and all discovered endpoints
//   - Issuer, audience and expiry checks on ID tokens
//   - Size limits on scopes and groups claims
//   - Discovery document caching with TTL
//
// # Example Usage
//
//	provider, err := oidc.NewProvider(ctx, &oidc.Config{
//	    IssuerURL:   "https://dex.example.com",
//	    ClientID:    "console",
//	    RedirectURL: "https://console.example.com/oauth/callback",
//	    ConnectorID: "github",
//	})
//	if err != nil {
//	    return err
//	}
//
//	authURL := provider.AuthorizationURL(state, challenge, "S256")
package oidc
