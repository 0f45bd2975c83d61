package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	console "github.com/giantswarm/console-core"
	"github.com/giantswarm/console-core/flow"
)

var loginTimeout time.Duration

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through the identity provider",
	Long: `login starts an authorization code flow with PKCE. It prints the
authorization URL, listens on the configured redirect URL for the callback and
stores the resulting credential in the credential file.

The redirect URL must point at a loopback address, e.g. http://127.0.0.1:8085/callback.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
		defer cancel()

		session, cfg, err := openSession(ctx, console.WithRedirector(flow.RedirectorFunc(
			func(_ context.Context, authURL string) error {
				_, err := fmt.Fprintf(cmd.ErrOrStderr(), "Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
				return err
			},
		)))
		if err != nil {
			return err
		}
		defer func() { _ = session.Close(context.Background()) }()

		redirect, err := url.Parse(cfg.Provider.RedirectURL)
		if err != nil {
			return fmt.Errorf("invalid redirect URL: %w", err)
		}
		if !isLoopback(redirect.Hostname()) {
			return fmt.Errorf("redirect URL host %q is not a loopback address", redirect.Hostname())
		}

		listener, err := net.Listen("tcp", redirect.Host)
		if err != nil {
			return fmt.Errorf("listening for callback: %w", err)
		}

		handler, results := newCallbackHandler(redirect, session.HandleCallback)
		server := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		go func() { _ = server.Serve(listener) }()
		defer func() { _ = server.Shutdown(context.Background()) }()

		if _, err := session.Login(ctx, "/"); err != nil {
			return err
		}

		select {
		case res := <-results:
			if res.err != nil {
				return fmt.Errorf("login failed (%s): %w", console.ErrorCode(res.err), res.err)
			}
		case <-ctx.Done():
			return fmt.Errorf("login not completed: %w", ctx.Err())
		}

		if err := saveCredential(session, cfg); err != nil {
			return err
		}

		c := session.Credential()
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", displayName(c.Claims.Email, c.Claims.Subject))
		return nil
	},
}

type callbackResult struct {
	returnPath string
	err        error
}

// newCallbackHandler serves the redirect path and hands the full callback URL
// to complete. The first callback's outcome is sent on the returned channel.
func newCallbackHandler(redirect *url.URL, complete func(ctx context.Context, callbackURL string) (string, error)) (http.Handler, <-chan callbackResult) {
	results := make(chan callbackResult, 1)
	path := redirect.Path
	if path == "" {
		path = "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		callback := *redirect
		callback.RawQuery = r.URL.RawQuery
		returnPath, err := complete(r.Context(), callback.String())

		select {
		case results <- callbackResult{returnPath: returnPath, err: err}:
		default:
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Sign-in failed: %s\nYou can close this window.\n", console.ErrorCode(err))
			return
		}
		fmt.Fprintln(w, "Signed in. You can close this window.")
	})
	return mux, results
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func displayName(email, subject string) string {
	if email != "" {
		return email
	}
	return subject
}

var errNotSignedIn = errors.New("not signed in")

func init() {
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 5*time.Minute, "how long to wait for the callback")
	rootCmd.AddCommand(loginCmd)
}
