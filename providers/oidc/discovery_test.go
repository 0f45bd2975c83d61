package oidc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newDiscoveryServer serves a discovery document whose endpoints live on the
// test server itself. mutate may adjust the document before it is served.
func newDiscoveryServer(t *testing.T, hits *atomic.Int32, mutate func(doc *DiscoveryDocument)) *httptest.Server {
	t.Helper()

	var server *httptest.Server
	server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		doc := DiscoveryDocument{
			Issuer:                 server.URL,
			AuthorizationEndpoint:  server.URL + "/auth",
			TokenEndpoint:          server.URL + "/token",
			UserInfoEndpoint:       server.URL + "/userinfo",
			JWKSUri:                server.URL + "/keys",
			ResponseTypesSupported: []string{"code"},
		}
		if mutate != nil {
			mutate(&doc)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(httpClient *http.Client, ttl time.Duration) *DiscoveryClient {
	return NewDiscoveryClient(httpClient, ttl, slog.Default(), WithPrivateIssuers())
}

func TestNewDiscoveryClient_Defaults(t *testing.T) {
	client := NewDiscoveryClient(nil, 0, nil)
	if client.httpClient == nil {
		t.Error("httpClient should be initialized with default")
	}
	if client.cacheTTL != time.Hour {
		t.Errorf("cacheTTL = %v, want %v", client.cacheTTL, time.Hour)
	}
	if client.logger == nil {
		t.Error("logger should be initialized with default")
	}
	if client.allowPrivate {
		t.Error("private issuers must be opt-in")
	}
}

func TestDiscoveryClient_Discover(t *testing.T) {
	server := newDiscoveryServer(t, nil, nil)

	doc, err := newTestClient(server.Client(), time.Hour).Discover(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if doc.TokenEndpoint != server.URL+"/token" {
		t.Errorf("TokenEndpoint = %q", doc.TokenEndpoint)
	}
	if doc.JWKSUri != server.URL+"/keys" {
		t.Errorf("JWKSUri = %q", doc.JWKSUri)
	}
}

func TestDiscoveryClient_RejectsLoopbackByDefault(t *testing.T) {
	server := newDiscoveryServer(t, nil, nil)

	client := NewDiscoveryClient(server.Client(), time.Hour, slog.Default())
	_, err := client.Discover(context.Background(), server.URL)
	if err == nil || !strings.Contains(err.Error(), "loopback") {
		t.Errorf("Discover() error = %v, want loopback rejection", err)
	}
}

func TestDiscoveryClient_InvalidDocuments(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(doc *DiscoveryDocument)
		errMsg string
	}{
		{
			name:   "HTTP authorization endpoint",
			mutate: func(doc *DiscoveryDocument) { doc.AuthorizationEndpoint = "http://idp.example.com/auth" },
			errMsg: "must use HTTPS",
		},
		{
			name:   "missing jwks_uri",
			mutate: func(doc *DiscoveryDocument) { doc.JWKSUri = "" },
			errMsg: "jwks_uri is required",
		},
		{
			name:   "HTTP revocation endpoint",
			mutate: func(doc *DiscoveryDocument) { doc.RevocationEndpoint = "http://idp.example.com/revoke" },
			errMsg: "revocation_endpoint must use HTTPS",
		},
		{
			name:   "issuer mismatch",
			mutate: func(doc *DiscoveryDocument) { doc.Issuer = "https://other.example.com" },
			errMsg: "issuer mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newDiscoveryServer(t, nil, tt.mutate)

			_, err := newTestClient(server.Client(), time.Hour).Discover(context.Background(), server.URL)
			if err == nil {
				t.Fatal("Discover() should fail")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestDiscoveryClient_Cache(t *testing.T) {
	var hits atomic.Int32
	server := newDiscoveryServer(t, &hits, nil)

	client := newTestClient(server.Client(), time.Minute)
	now := time.Now()
	client.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := client.Discover(ctx, server.URL); err != nil {
			t.Fatalf("Discover() error = %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1 (cached)", hits.Load())
	}

	now = now.Add(2 * time.Minute)
	if _, err := client.Discover(ctx, server.URL); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2 after expiry", hits.Load())
	}

	client.ClearCache()
	if _, err := client.Discover(ctx, server.URL); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("server hits = %d, want 3 after ClearCache", hits.Load())
	}
}

func TestDiscoveryClient_ServerError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(server.Client(), time.Hour).Discover(context.Background(), server.URL)
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Errorf("Discover() error = %v, want status 500", err)
	}
}
