package credential

import (
	"slices"
	"time"

	"golang.org/x/oauth2"
)

// Claims are the identity claims associated with a credential
type Claims struct {
	Subject       string   `json:"sub"`
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified,omitempty"`
	Name          string   `json:"name,omitempty"`
	Groups        []string `json:"groups,omitempty"`
}

// Credential is an opaque bearer token with its expiry and identity claims
type Credential struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Claims       Claims    `json:"claims"`
}

// FromToken builds a Credential from an OAuth2 token response and the claims
// derived from it.
func FromToken(token *oauth2.Token, claims Claims) *Credential {
	if token == nil {
		return nil
	}

	c := &Credential{
		AccessToken:  token.AccessToken,
		TokenType:    token.Type(),
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Claims:       claims,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		c.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok {
		c.Scope = scope
	}
	c.Claims.Groups = slices.Clone(claims.Groups)
	return c
}

// Clone returns a deep copy of the credential (nil-safe)
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Claims.Groups = slices.Clone(c.Claims.Groups)
	return &clone
}

// AuthorizationHeader returns the value for the Authorization header.
// Token types are normalized to "Bearer" as required by RFC 6750.
func (c *Credential) AuthorizationHeader() string {
	return "Bearer " + c.AccessToken
}

// HasRefreshToken reports whether the credential can be refreshed
func (c *Credential) HasRefreshToken() bool {
	return c != nil && c.RefreshToken != ""
}
