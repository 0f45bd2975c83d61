package oidc

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
)

// Limits applied to values that end up in authorization requests or claims
const (
	maxConnectorIDLength = 64
	maxScopes            = 50
	maxGroups            = 100
	maxValueLength       = 256
)

var connectorIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateIssuerURL checks that issuerURL is an HTTPS URL without query or
// fragment whose host is not a loopback, private or link-local address.
//
//	if err := oidc.ValidateIssuerURL("https://dex.example.com"); err != nil {
//	    return fmt.Errorf("invalid issuer: %w", err)
//	}
func ValidateIssuerURL(issuerURL string) error {
	return validateIssuerURL(issuerURL, false)
}

// validateIssuerURL is ValidateIssuerURL with the address check made optional
// for development issuers
func validateIssuerURL(issuerURL string, allowPrivate bool) error {
	u, err := url.Parse(issuerURL)
	switch {
	case err != nil:
		return fmt.Errorf("invalid issuer URL: %w", err)
	case u.Scheme != "https":
		return fmt.Errorf("issuer URL must use HTTPS, got %s", u.Scheme)
	case u.Hostname() == "":
		return errors.New("issuer URL must have a hostname")
	case u.RawQuery != "" || u.Fragment != "":
		return errors.New("issuer URL must not contain a query or fragment")
	case allowPrivate:
		return nil
	}

	addr, err := netip.ParseAddr(u.Hostname())
	if err != nil {
		// A hostname; it is resolved by the HTTP client.
		return nil
	}
	switch {
	case addr.IsLoopback():
		return errors.New("issuer URL must not point to loopback addresses")
	case addr.IsPrivate():
		return errors.New("issuer URL must not point to private IP ranges")
	case addr.IsLinkLocalUnicast():
		return errors.New("issuer URL must not point to link-local addresses")
	}
	return nil
}

// ValidateConnectorID checks an optional Dex connector_id. It is sent as a
// query parameter, so only [a-zA-Z0-9_-] is allowed.
func ValidateConnectorID(connectorID string) error {
	switch {
	case connectorID == "":
		return nil
	case !connectorIDPattern.MatchString(connectorID):
		return errors.New("connector_id contains invalid characters (allowed: a-z, A-Z, 0-9, _, -)")
	case len(connectorID) > maxConnectorIDLength:
		return fmt.Errorf("connector_id exceeds maximum length of %d characters", maxConnectorIDLength)
	}
	return nil
}

// ValidateScopes checks the requested scopes
func ValidateScopes(scopes []string) error {
	if len(scopes) > maxScopes {
		return fmt.Errorf("too many scopes (max %d, got %d)", maxScopes, len(scopes))
	}
	for i, scope := range scopes {
		if scope == "" {
			return fmt.Errorf("scope at index %d is empty", i)
		}
		if len(scope) > maxValueLength {
			return fmt.Errorf("scope at index %d exceeds maximum length of %d characters", i, maxValueLength)
		}
	}
	return nil
}

// ValidateGroups bounds the groups claim of an ID token or userinfo response
func ValidateGroups(groups []string) error {
	if len(groups) > maxGroups {
		return fmt.Errorf("groups claim exceeds maximum of %d groups (got %d)", maxGroups, len(groups))
	}
	for i, group := range groups {
		if len(group) > maxValueLength {
			return fmt.Errorf("group at index %d exceeds maximum length of %d characters", i, maxValueLength)
		}
	}
	return nil
}
