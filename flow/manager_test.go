package flow

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/console-core/credential"
	"github.com/giantswarm/console-core/internal/testutil"
	"github.com/giantswarm/console-core/providers/mock"
	"github.com/giantswarm/console-core/providers/oidc"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *mock.MockProvider, *credential.Store) {
	t.Helper()
	provider := mock.NewMockProvider()
	store := credential.NewStore()
	m, err := NewManager(provider, store, cfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Close)
	return m, provider, store
}

func stateOf(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("invalid authorization URL %q: %v", authURL, err)
	}
	return u.Query().Get("state")
}

func TestNewManager_Validation(t *testing.T) {
	if _, err := NewManager(nil, credential.NewStore(), Config{}); err == nil {
		t.Error("NewManager() without provider should fail")
	}
	if _, err := NewManager(mock.NewMockProvider(), nil, Config{}); err == nil {
		t.Error("NewManager() without store should fail")
	}

	store := credential.NewStore(credential.WithInitial(&credential.Credential{AccessToken: "persisted"}))
	m, err := NewManager(mock.NewMockProvider(), store, Config{})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()
	if m.State() != Authenticated {
		t.Errorf("State() = %v, want authenticated for seeded store", m.State())
	}
}

func TestBeginLogin(t *testing.T) {
	var transitions []string
	m, _, _ := newTestManager(t, Config{
		OnStateChange: func(from, to State) { transitions = append(transitions, from.String()+">"+to.String()) },
	})

	authURL, err := m.BeginLogin(context.Background(), "/profile")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	q, _ := url.ParseQuery(strings.SplitN(authURL, "?", 2)[1])
	pending, ok := m.Pending()
	if !ok {
		t.Fatal("no pending authorization request")
	}

	if q.Get("state") != pending.State {
		t.Errorf("state = %q, want pending state %q", q.Get("state"), pending.State)
	}
	if len(pending.State) < 43 {
		t.Errorf("state %q is too short", pending.State)
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q", q.Get("code_challenge_method"))
	}
	if q.Get("code_challenge") != oauth2.S256ChallengeFromVerifier(pending.CodeVerifier) {
		t.Error("code_challenge is not the S256 transform of the verifier")
	}
	if strings.Contains(authURL, pending.CodeVerifier) {
		t.Error("verifier leaked into the authorization URL")
	}
	if pending.ReturnPath != "/profile" {
		t.Errorf("ReturnPath = %q", pending.ReturnPath)
	}
	if got := pending.ExpiresAt.Sub(pending.CreatedAt); got != DefaultPendingTTL {
		t.Errorf("TTL = %v, want %v", got, DefaultPendingTTL)
	}

	if m.State() != CallbackPending {
		t.Errorf("State() = %v, want callback_pending", m.State())
	}
	want := "unauthenticated>authorization_requested,authorization_requested>callback_pending"
	if strings.Join(transitions, ",") != want {
		t.Errorf("transitions = %v, want %s", transitions, want)
	}
}

func TestBeginLogin_ReturnPath(t *testing.T) {
	tests := []struct {
		returnPath string
		want       string
		wantErr    bool
	}{
		{"", DefaultReturnPath, false},
		{"/orgs/acme?tab=projects", "/orgs/acme?tab=projects", false},
		{"https://evil.example.com", "", true},
		{"//evil.example.com/x", "", true},
		{"profile", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.returnPath, func(t *testing.T) {
			m, _, _ := newTestManager(t, Config{})
			_, err := m.BeginLogin(context.Background(), tt.returnPath)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidReturnPath) {
					t.Errorf("BeginLogin() error = %v, want ErrInvalidReturnPath", err)
				}
				if _, ok := m.Pending(); ok {
					t.Error("rejected login must not leave a pending request")
				}
				return
			}
			if err != nil {
				t.Fatalf("BeginLogin() error = %v", err)
			}
			pending, _ := m.Pending()
			if pending.ReturnPath != tt.want {
				t.Errorf("ReturnPath = %q, want %q", pending.ReturnPath, tt.want)
			}
		})
	}
}

func TestCompleteLogin_StateMismatch(t *testing.T) {
	m, provider, store := newTestManager(t, Config{})
	existing := &credential.Credential{AccessToken: "existing"}
	store.Set(existing)

	authURL, err := m.BeginLogin(context.Background(), "/profile")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	notified := false
	store.Subscribe(func(*credential.Credential) { notified = true })

	_, err = m.CompleteLogin(context.Background(), CallbackParams{Code: "code", State: "forged"})
	if !errors.Is(err, ErrCallbackValidation) {
		t.Fatalf("CompleteLogin() error = %v, want ErrCallbackValidation", err)
	}
	if got := store.Get(); got == nil || got.AccessToken != "existing" {
		t.Errorf("store changed: %+v", got)
	}
	if notified {
		t.Error("store subscribers notified on failed callback")
	}
	if provider.GetCallCount("ExchangeCode") != 0 {
		t.Error("code exchanged despite state mismatch")
	}

	// The pending request was consumed: even the right state now fails
	_, err = m.CompleteLogin(context.Background(), CallbackParams{Code: "code", State: stateOf(t, authURL)})
	if !errors.Is(err, ErrCallbackValidation) {
		t.Errorf("CompleteLogin() after failure error = %v, want ErrCallbackValidation", err)
	}
	if m.State() != Authenticated {
		t.Errorf("State() = %v, want authenticated (existing credential kept)", m.State())
	}
}

func TestCompleteLogin_Replay(t *testing.T) {
	m, provider, store := newTestManager(t, Config{})

	authURL, _ := m.BeginLogin(context.Background(), "/profile")
	params := CallbackParams{Code: "code-1", State: stateOf(t, authURL)}

	returnPath, err := m.CompleteLogin(context.Background(), params)
	if err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}
	if returnPath != "/profile" {
		t.Errorf("returnPath = %q, want /profile", returnPath)
	}
	if got := store.Get(); got == nil || got.AccessToken != "mock-access-token" {
		t.Fatalf("store = %+v, want mock credential", got)
	}
	if got := store.Get(); got.Claims.Subject != "mock-user-123" {
		t.Errorf("Subject = %q", got.Claims.Subject)
	}

	_, err = m.CompleteLogin(context.Background(), params)
	if !errors.Is(err, ErrCallbackValidation) {
		t.Errorf("replayed callback error = %v, want ErrCallbackValidation", err)
	}
	if provider.GetCallCount("ExchangeCode") != 1 {
		t.Errorf("ExchangeCode calls = %d, want 1", provider.GetCallCount("ExchangeCode"))
	}
}

func TestCompleteLogin_NewerLoginReplacesPending(t *testing.T) {
	m, _, store := newTestManager(t, Config{})

	first, _ := m.BeginLogin(context.Background(), "/first")
	second, _ := m.BeginLogin(context.Background(), "/second")

	_, err := m.CompleteLogin(context.Background(), CallbackParams{Code: "c", State: stateOf(t, first)})
	if !errors.Is(err, ErrCallbackValidation) {
		t.Fatalf("stale callback error = %v, want ErrCallbackValidation", err)
	}
	if store.Get() != nil {
		t.Error("stale callback must not authenticate")
	}

	// The single pending slot was consumed by the stale callback
	_, err = m.CompleteLogin(context.Background(), CallbackParams{Code: "c", State: stateOf(t, second)})
	if !errors.Is(err, ErrCallbackValidation) {
		t.Errorf("error = %v, want ErrCallbackValidation", err)
	}
}

func TestCompleteLogin_Expired(t *testing.T) {
	m, _, store := newTestManager(t, Config{PendingTTL: time.Minute})
	clock := testutil.NewMockTime(time.Now())
	m.now = clock.Now

	authURL, _ := m.BeginLogin(context.Background(), "/")
	clock.Advance(2 * time.Minute)

	_, err := m.CompleteLogin(context.Background(), CallbackParams{Code: "c", State: stateOf(t, authURL)})
	if !errors.Is(err, ErrCallbackValidation) || !strings.Contains(err.Error(), "expired") {
		t.Errorf("error = %v, want expired validation failure", err)
	}
	if store.Get() != nil {
		t.Error("expired callback must not authenticate")
	}
	if m.State() != Unauthenticated {
		t.Errorf("State() = %v, want unauthenticated", m.State())
	}
}

func TestCompleteLogin_ProviderErrorParam(t *testing.T) {
	m, provider, store := newTestManager(t, Config{})

	authURL, _ := m.BeginLogin(context.Background(), "/")
	_, err := m.CompleteLogin(context.Background(), ParseCallback(url.Values{
		"state":             {stateOf(t, authURL)},
		"error":             {"access_denied"},
		"error_description": {"user cancelled"},
	}))

	if !errors.Is(err, ErrExchangeFailure) {
		t.Fatalf("error = %v, want ErrExchangeFailure", err)
	}
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) || providerErr.Code != "access_denied" {
		t.Errorf("error = %v, want ProviderError access_denied", err)
	}
	if provider.GetCallCount("ExchangeCode") != 0 {
		t.Error("code exchanged despite provider error")
	}
	if store.Get() != nil {
		t.Error("store mutated")
	}
}

func TestCompleteLogin_ExchangeFailure(t *testing.T) {
	tests := []struct {
		name         string
		exchangeErr  error
		wantProvider string
	}{
		{
			name: "token endpoint error",
			exchangeErr: &oauth2.RetrieveError{
				Response:         &http.Response{StatusCode: http.StatusBadRequest},
				ErrorCode:        "invalid_grant",
				ErrorDescription: "code expired",
			},
			wantProvider: "invalid_grant",
		},
		{
			name:        "network error",
			exchangeErr: errors.New("connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, provider, store := newTestManager(t, Config{})
			provider.ExchangeCodeFunc = func(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
				return nil, tt.exchangeErr
			}

			authURL, _ := m.BeginLogin(context.Background(), "/")
			_, err := m.CompleteLogin(context.Background(), CallbackParams{Code: "c", State: stateOf(t, authURL)})

			if !errors.Is(err, ErrExchangeFailure) {
				t.Fatalf("error = %v, want ErrExchangeFailure", err)
			}
			var providerErr *ProviderError
			if tt.wantProvider != "" && (!errors.As(err, &providerErr) || providerErr.Code != tt.wantProvider) {
				t.Errorf("error = %v, want ProviderError %s", err, tt.wantProvider)
			}
			if store.Get() != nil {
				t.Error("store mutated on exchange failure")
			}
			if m.State() != Unauthenticated {
				t.Errorf("State() = %v, want unauthenticated", m.State())
			}
		})
	}
}

func TestCompleteLogin_PassesVerifier(t *testing.T) {
	m, provider, _ := newTestManager(t, Config{})

	var gotVerifier string
	provider.ExchangeCodeFunc = func(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
		gotVerifier = verifier
		return &oauth2.Token{AccessToken: "t"}, nil
	}

	authURL, _ := m.BeginLogin(context.Background(), "/")
	pending, _ := m.Pending()
	if _, err := m.CompleteLogin(context.Background(), CallbackParams{Code: "c", State: stateOf(t, authURL)}); err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}
	if gotVerifier != pending.CodeVerifier {
		t.Error("exchange did not receive the stored verifier")
	}
}

func TestBeginLogin_Redirector(t *testing.T) {
	var redirected string
	m, _, _ := newTestManager(t, Config{
		Redirector: RedirectorFunc(func(ctx context.Context, authURL string) error {
			redirected = authURL
			return nil
		}),
	})

	authURL, err := m.BeginLogin(context.Background(), "/")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}
	if redirected != authURL {
		t.Errorf("redirected to %q, want %q", redirected, authURL)
	}

	failing, _, _ := newTestManager(t, Config{
		Redirector: RedirectorFunc(func(context.Context, string) error { return errors.New("no browser") }),
	})
	if _, err := failing.BeginLogin(context.Background(), "/"); err == nil {
		t.Fatal("BeginLogin() should surface redirect failure")
	}
	if _, ok := failing.Pending(); ok {
		t.Error("failed redirect must drop the pending request")
	}
	if failing.State() != Unauthenticated {
		t.Errorf("State() = %v, want unauthenticated", failing.State())
	}
}

func TestRefresh(t *testing.T) {
	t.Run("success swaps credential", func(t *testing.T) {
		m, _, store := newTestManager(t, Config{})
		store.Set(&credential.Credential{
			AccessToken:  "old",
			RefreshToken: "refresh",
			Claims:       credential.Claims{Subject: "user-1"},
		})

		if err := m.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		got := store.Get()
		if got.AccessToken != "new-mock-access-token" || got.RefreshToken != "new-mock-refresh-token" {
			t.Errorf("credential = %+v", got)
		}
		if got.Claims.Subject != "user-1" {
			t.Errorf("claims should carry over without new ID token, got %+v", got.Claims)
		}
	})

	t.Run("rejection clears credential", func(t *testing.T) {
		m, provider, store := newTestManager(t, Config{})
		provider.RefreshTokenFunc = func(context.Context, string) (*oauth2.Token, error) {
			return nil, errors.New("invalid_grant")
		}
		store.Set(&credential.Credential{AccessToken: "old", RefreshToken: "refresh"})

		err := m.Refresh(context.Background())
		if !errors.Is(err, credential.ErrAuthenticationExpired) {
			t.Errorf("Refresh() error = %v, want ErrAuthenticationExpired", err)
		}
		if store.Get() != nil {
			t.Error("credential not cleared")
		}
		if m.State() != Unauthenticated {
			t.Errorf("State() = %v, want unauthenticated", m.State())
		}
	})

	t.Run("credential replaced during refresh wins", func(t *testing.T) {
		m, provider, store := newTestManager(t, Config{})
		store.Set(&credential.Credential{AccessToken: "old", RefreshToken: "refresh"})
		provider.RefreshTokenFunc = func(context.Context, string) (*oauth2.Token, error) {
			store.Set(&credential.Credential{AccessToken: "other-login"})
			return &oauth2.Token{AccessToken: "refreshed"}, nil
		}

		if err := m.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if got := store.Get(); got.AccessToken != "other-login" {
			t.Errorf("AccessToken = %q, want other-login", got.AccessToken)
		}
	})

	t.Run("unauthenticated", func(t *testing.T) {
		m, _, _ := newTestManager(t, Config{})
		if err := m.Refresh(context.Background()); !errors.Is(err, credential.ErrAuthenticationRequired) {
			t.Errorf("Refresh() error = %v, want ErrAuthenticationRequired", err)
		}
	})
}

func TestEnsureFresh(t *testing.T) {
	m, provider, store := newTestManager(t, Config{RefreshThreshold: time.Minute})

	store.Set(&credential.Credential{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)})
	if err := m.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("EnsureFresh() error = %v", err)
	}
	if provider.GetCallCount("RefreshToken") != 0 {
		t.Error("fresh credential refreshed")
	}

	store.Set(&credential.Credential{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(30 * time.Second)})
	if err := m.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("EnsureFresh() error = %v", err)
	}
	if provider.GetCallCount("RefreshToken") != 1 {
		t.Error("expiring credential not refreshed")
	}
}

func TestSignOut(t *testing.T) {
	m, provider, store := newTestManager(t, Config{})

	var revoked []string
	provider.RevokeTokenFunc = func(ctx context.Context, token string) error {
		revoked = append(revoked, token)
		return errors.New("revocation endpoint down")
	}

	store.Set(&credential.Credential{AccessToken: "access", RefreshToken: "refresh"})
	_, _ = m.BeginLogin(context.Background(), "/")

	m.SignOut(context.Background())

	if store.Get() != nil {
		t.Error("credential not cleared")
	}
	if _, ok := m.Pending(); ok {
		t.Error("pending login not cleared")
	}
	if m.State() != Unauthenticated {
		t.Errorf("State() = %v, want unauthenticated", m.State())
	}
	if strings.Join(revoked, ",") != "refresh,access" {
		t.Errorf("revoked = %v, want refresh then access", revoked)
	}
}

func TestSignOutDuringExchange(t *testing.T) {
	m, provider, store := newTestManager(t, Config{})

	provider.ExchangeCodeFunc = func(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
		m.SignOut(ctx)
		return &oauth2.Token{AccessToken: "late"}, nil
	}

	authURL, _ := m.BeginLogin(context.Background(), "/")
	_, err := m.CompleteLogin(context.Background(), CallbackParams{Code: "c", State: stateOf(t, authURL)})
	if !errors.Is(err, ErrExchangeFailure) {
		t.Errorf("error = %v, want ErrExchangeFailure", err)
	}
	if store.Get() != nil {
		t.Error("login completed after sign-out")
	}
}

func TestState_FollowsStore(t *testing.T) {
	m, _, store := newTestManager(t, Config{})

	store.Set(&credential.Credential{AccessToken: "restored"})
	if m.State() != Authenticated {
		t.Errorf("State() = %v, want authenticated", m.State())
	}

	store.Set(nil)
	if m.State() != Unauthenticated {
		t.Errorf("State() = %v, want unauthenticated", m.State())
	}
}

func TestParseCallbackURL(t *testing.T) {
	params, err := ParseCallbackURL("https://console.example.com/oauth/callback?code=abc&state=xyz")
	if err != nil {
		t.Fatalf("ParseCallbackURL() error = %v", err)
	}
	if params.Code != "abc" || params.State != "xyz" {
		t.Errorf("params = %+v", params)
	}

	if _, err := ParseCallbackURL("://bad"); !errors.Is(err, ErrCallbackValidation) {
		t.Errorf("error = %v, want ErrCallbackValidation", err)
	}
}

func TestEndToEnd_OIDC(t *testing.T) {
	idp := testutil.NewIdP(t, "console")
	provider, err := oidc.NewProvider(context.Background(), &oidc.Config{
		IssuerURL:          idp.URL(),
		ClientID:           "console",
		RedirectURL:        "https://console.example.com/oauth/callback",
		HTTPClient:         idp.HTTPClient(),
		AllowPrivateIssuer: true,
	})
	if err != nil {
		t.Fatalf("oidc.NewProvider() error = %v", err)
	}

	store := credential.NewStore()
	m, err := NewManager(provider, store, Config{})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	ctx := context.Background()
	authURL, err := m.BeginLogin(ctx, "/profile")
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	callback, err := idp.Authorize(authURL)
	if err != nil {
		t.Fatalf("provider rejected authorization request: %v", err)
	}

	returnPath, err := m.CompleteLogin(ctx, ParseCallback(callback))
	if err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}
	if returnPath != "/profile" {
		t.Errorf("returnPath = %q, want /profile", returnPath)
	}
	if m.State() != Authenticated {
		t.Errorf("State() = %v, want authenticated", m.State())
	}

	c := store.Get()
	if c == nil {
		t.Fatal("store not authenticated")
	}
	if !idp.ValidAccessToken(c.AccessToken) {
		t.Error("stored access token was not issued by the provider")
	}
	if c.Claims.Subject != idp.User.ID || c.Claims.Email != idp.User.Email {
		t.Errorf("claims = %+v", c.Claims)
	}
	if c.IDToken == "" {
		t.Error("ID token not kept")
	}

	if err := m.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	refreshed := store.Get()
	if refreshed.AccessToken == c.AccessToken {
		t.Error("refresh did not replace the access token")
	}

	m.SignOut(ctx)
	if store.Get() != nil {
		t.Error("still authenticated after sign-out")
	}
	if idp.ValidAccessToken(refreshed.AccessToken) {
		t.Error("access token not revoked")
	}
}
