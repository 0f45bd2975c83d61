package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/console-core/providers"
)

// idTokenSigningKey signs ID tokens issued by the fake identity provider.
// The console core does not verify ID token signatures.
var idTokenSigningKey = []byte("console-core-test-signing-key")

type issuedCode struct {
	clientID      string
	redirectURI   string
	codeChallenge string
	scope         string
	expiresAt     time.Time
}

// IdP is a fake OpenID Connect identity provider served over TLS. It supports
// discovery, the authorization code grant with PKCE (S256 only), refresh, userinfo
// and revocation.
type IdP struct {
	Server   *httptest.Server
	ClientID string

	mu sync.Mutex

	// User is the identity returned for every login
	User providers.UserInfo

	// OmitIDToken makes the token endpoint respond without an ID token
	OmitIDToken bool

	// TokenError, when set, is returned as the OAuth error of every token request
	TokenError string

	// AccessTokenTTL is the lifetime of issued access tokens (default: 1h)
	AccessTokenTTL time.Duration

	// EnableRevocation advertises a revocation endpoint in discovery
	EnableRevocation bool

	codes         map[string]issuedCode
	accessTokens  map[string]bool
	refreshTokens map[string]bool
	revoked       []string
	tokenRequests int
}

// NewIdP starts a fake identity provider that is closed when the test ends
func NewIdP(t *testing.T, clientID string) *IdP {
	t.Helper()

	idp := &IdP{
		ClientID:         clientID,
		User:             *GenerateTestUserInfo(),
		AccessTokenTTL:   time.Hour,
		EnableRevocation: true,
		codes:            make(map[string]issuedCode),
		accessTokens:     make(map[string]bool),
		refreshTokens:    make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.handleDiscovery)
	mux.HandleFunc("/token", idp.handleToken)
	mux.HandleFunc("/userinfo", idp.handleUserInfo)
	mux.HandleFunc("/revoke", idp.handleRevoke)
	mux.HandleFunc("/keys", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"keys": []any{}})
	})

	idp.Server = httptest.NewTLSServer(mux)
	t.Cleanup(idp.Server.Close)
	return idp
}

// URL returns the issuer URL
func (i *IdP) URL() string {
	return i.Server.URL
}

// HTTPClient returns a client trusting the fake provider's certificate
func (i *IdP) HTTPClient() *http.Client {
	return i.Server.Client()
}

// Revoked returns the tokens revoked so far
func (i *IdP) Revoked() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.revoked...)
}

// TokenRequests returns the number of token endpoint requests served
func (i *IdP) TokenRequests() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.tokenRequests
}

// ValidAccessToken reports whether token was issued and not revoked
func (i *IdP) ValidAccessToken(token string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.accessTokens[token]
}

// Authorize plays the user agent and the user: it validates the authorization
// request the way the provider would and returns the callback query parameters.
func (i *IdP) Authorize(authURL string) (url.Values, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(authURL, i.Server.URL+"/auth") {
		return nil, fmt.Errorf("authorization URL %q does not point at the provider", authURL)
	}

	q := u.Query()
	switch {
	case q.Get("client_id") != i.ClientID:
		return nil, fmt.Errorf("unknown client_id %q", q.Get("client_id"))
	case q.Get("response_type") != "code":
		return nil, fmt.Errorf("unsupported response_type %q", q.Get("response_type"))
	case !containsScope(q.Get("scope"), "openid"):
		return nil, errors.New("scope must include openid")
	case q.Get("state") == "":
		return nil, errors.New("state is required")
	case q.Get("code_challenge") == "":
		return nil, errors.New("code_challenge is required")
	case q.Get("code_challenge_method") != "S256":
		return nil, fmt.Errorf("unsupported code_challenge_method %q", q.Get("code_challenge_method"))
	case q.Get("redirect_uri") == "":
		return nil, errors.New("redirect_uri is required")
	}

	code := GenerateRandomString(24)

	i.mu.Lock()
	i.codes[code] = issuedCode{
		clientID:      q.Get("client_id"),
		redirectURI:   q.Get("redirect_uri"),
		codeChallenge: q.Get("code_challenge"),
		scope:         q.Get("scope"),
		expiresAt:     time.Now().Add(time.Minute),
	}
	i.mu.Unlock()

	return url.Values{"code": {code}, "state": {q.Get("state")}}, nil
}

func (i *IdP) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"issuer":                           i.Server.URL,
		"authorization_endpoint":           i.Server.URL + "/auth",
		"token_endpoint":                   i.Server.URL + "/token",
		"userinfo_endpoint":                i.Server.URL + "/userinfo",
		"jwks_uri":                         i.Server.URL + "/keys",
		"response_types_supported":         []string{"code"},
		"grant_types_supported":            []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported": []string{"S256"},
	}

	i.mu.Lock()
	if i.EnableRevocation {
		doc["revocation_endpoint"] = i.Server.URL + "/revoke"
	}
	i.mu.Unlock()

	writeJSON(w, http.StatusOK, doc)
}

func (i *IdP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, "invalid_request", err.Error())
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.tokenRequests++

	if i.TokenError != "" {
		oauthError(w, i.TokenError, "configured failure")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		i.exchangeCode(w, r)
	case "refresh_token":
		i.refresh(w, r)
	default:
		oauthError(w, "unsupported_grant_type", r.PostForm.Get("grant_type"))
	}
}

// exchangeCode must be called with mu held
func (i *IdP) exchangeCode(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")
	issued, ok := i.codes[code]
	delete(i.codes, code) // single use

	switch {
	case !ok:
		oauthError(w, "invalid_grant", "unknown or used code")
		return
	case time.Now().After(issued.expiresAt):
		oauthError(w, "invalid_grant", "code expired")
		return
	case r.PostForm.Get("redirect_uri") != issued.redirectURI:
		oauthError(w, "invalid_grant", "redirect_uri mismatch")
		return
	case clientIDOf(r) != issued.clientID:
		oauthError(w, "invalid_client", "client mismatch")
		return
	}

	verifier := r.PostForm.Get("code_verifier")
	sum := sha256.Sum256([]byte(verifier))
	if verifier == "" || base64.RawURLEncoding.EncodeToString(sum[:]) != issued.codeChallenge {
		oauthError(w, "invalid_grant", "PKCE verification failed")
		return
	}

	i.issueTokens(w, issued.scope)
}

// refresh must be called with mu held
func (i *IdP) refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.PostForm.Get("refresh_token")
	if !i.refreshTokens[refreshToken] {
		oauthError(w, "invalid_grant", "unknown refresh token")
		return
	}
	// Rotate
	delete(i.refreshTokens, refreshToken)
	i.issueTokens(w, "openid profile email groups offline_access")
}

// issueTokens must be called with mu held
func (i *IdP) issueTokens(w http.ResponseWriter, scope string) {
	accessToken := "at-" + GenerateRandomString(24)
	refreshToken := "rt-" + GenerateRandomString(24)
	i.accessTokens[accessToken] = true
	i.refreshTokens[refreshToken] = true

	resp := map[string]any{
		"access_token":  accessToken,
		"token_type":    "bearer",
		"refresh_token": refreshToken,
		"expires_in":    int(i.AccessTokenTTL.Seconds()),
		"scope":         scope,
	}

	if !i.OmitIDToken {
		idToken, err := i.signIDToken()
		if err != nil {
			oauthError(w, "server_error", err.Error())
			return
		}
		resp["id_token"] = idToken
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// signIDToken must be called with mu held
func (i *IdP) signIDToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":            i.Server.URL,
		"sub":            i.User.ID,
		"aud":            i.ClientID,
		"iat":            now.Unix(),
		"exp":            now.Add(i.AccessTokenTTL).Unix(),
		"email":          i.User.Email,
		"email_verified": i.User.EmailVerified,
		"name":           i.User.Name,
		"given_name":     i.User.GivenName,
		"family_name":    i.User.FamilyName,
		"groups":         i.User.Groups,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(idTokenSigningKey)
}

func (i *IdP) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.accessTokens[token] {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sub":            i.User.ID,
		"email":          i.User.Email,
		"email_verified": i.User.EmailVerified,
		"name":           i.User.Name,
		"groups":         i.User.Groups,
	})
}

func (i *IdP) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, "invalid_request", err.Error())
		return
	}
	token := r.PostForm.Get("token")

	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.accessTokens, token)
	delete(i.refreshTokens, token)
	i.revoked = append(i.revoked, token)
	w.WriteHeader(http.StatusOK)
}

// clientIDOf returns the client ID from basic auth or the form
func clientIDOf(r *http.Request) string {
	if id, _, ok := r.BasicAuth(); ok {
		return id
	}
	return r.PostForm.Get("client_id")
}

func containsScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}

func oauthError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
