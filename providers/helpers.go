package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultRequestTimeout bounds provider calls when the context carries no deadline
const DefaultRequestTimeout = 30 * time.Second

// OAuth2ConfigExchanger is an interface for the Exchange method of oauth2.Config.
// This allows shared helper functions that work with any provider's config.
type OAuth2ConfigExchanger interface {
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// ExchangeCodeWithPKCE exchanges an authorization code with an optional PKCE verifier
// using httpClient for the token request.
func ExchangeCodeWithPKCE(ctx context.Context, config OAuth2ConfigExchanger, httpClient *http.Client, code, verifier string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption

	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	token, err := config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	return token, nil
}

// EnsureContextTimeout returns ctx unchanged if it has a deadline, otherwise a
// derived context bounded by timeout. The returned cancel must always be called.
func EnsureContextTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// ErrorCode returns the OAuth error code of a token endpoint failure, or "" if err
// did not come from the provider's error response.
func ErrorCode(err error) string {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode != "" {
			return retrieveErr.ErrorCode
		}
		if retrieveErr.Response != nil {
			return fmt.Sprintf("http_%d", retrieveErr.Response.StatusCode)
		}
	}
	return ""
}
