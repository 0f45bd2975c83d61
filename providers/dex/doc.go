// Package dex provides a Dex identity provider for the console login flow.
//
// Dex (https://dexidp.io/) federates other identity providers through
// connectors (LDAP, SAML, GitHub and others). The provider builds on the
// generic OIDC provider and adds Dex behavior:
//
//   - connector_id skips Dex's connector selection screen
//   - the groups scope is requested by default so group memberships reach the console
//   - offline_access is always requested; Dex issues refresh tokens only with it
//   - rotated refresh tokens are carried in the refreshed token
//
// # Example Usage
//
//	provider, err := dex.NewProvider(ctx, &dex.Config{
//	    IssuerURL:   "https://dex.example.com",
//	    ClientID:    "console",
//	    RedirectURL: "http://127.0.0.1:8085/callback",
//	    ConnectorID: "github",
//	})
//	if err != nil {
//	    return err
//	}
//
// Dex rotates refresh tokens and invalidates the old one on use, so the
// refreshed credential must replace the stored one. The session does this.
//
// Reference: https://dexidp.io/docs/configuration/custom-scopes-claims-clients/
package dex
