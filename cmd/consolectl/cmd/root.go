// Package cmd provides CLI commands for consolectl.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	console "github.com/giantswarm/console-core"
	"github.com/giantswarm/console-core/flow"
)

var (
	cfgFile  string
	logLevel string
	log      *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "consolectl",
	Short: "Command line client for the console API",
	Long: `consolectl signs in to the console through the configured OpenID Connect
identity provider and manages organizations and projects.

The credential is kept sealed in the credential file between invocations.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.ToLower(logLevel))); err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	log = slog.New(slog.NewTextHandler(os.Stderr, nil))

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: CONSOLECTL_CONFIG env var or consolectl.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"log level (debug, info, warn, error)")
}

// openSession loads the configuration and creates a session restored from the
// credential file, if one exists
func openSession(ctx context.Context, opts ...console.Option) (*console.Session, *Config, error) {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	cfg.Logger = log

	session, err := console.New(ctx, cfg.Config, opts...)
	if err != nil {
		return nil, nil, err
	}

	sealed, err := os.ReadFile(cfg.CredentialFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		_ = session.Close(ctx)
		return nil, nil, fmt.Errorf("reading credential file: %w", err)
	default:
		if err := session.Restore(strings.TrimSpace(string(sealed))); err != nil {
			log.Warn("Ignoring unreadable credential file", "path", cfg.CredentialFile, "error", err)
		}
	}

	return session, cfg, nil
}

// saveCredential writes the session's credential to the credential file, or
// removes the file when the session is signed out
func saveCredential(session *console.Session, cfg *Config) error {
	if !session.Authenticated() {
		if err := os.Remove(cfg.CredentialFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing credential file: %w", err)
		}
		return nil
	}

	sealed, err := session.Persist()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.CredentialFile), 0o700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}
	if err := os.WriteFile(cfg.CredentialFile, []byte(sealed+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing credential file: %w", err)
	}
	return nil
}

// withSession runs fn with an open session and saves the credential afterwards,
// so refreshed or cleared credentials survive the invocation
func withSession(ctx context.Context, fn func(*console.Session) error) error {
	session, cfg, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(ctx) }()

	runErr := fn(session)
	if err := saveCredential(session, cfg); err != nil {
		log.Warn("Failed to save credential", "error", err)
	}
	return describe(runErr)
}

// describe adds a hint to errors the user can act on
func describe(err error) error {
	switch console.ErrorCode(err) {
	case console.ErrorCodeAuthenticationRequired:
		return fmt.Errorf("%w (run \"consolectl login\")", err)
	case console.ErrorCodeAuthenticationExpired:
		return fmt.Errorf("%w (session expired, run \"consolectl login\")", err)
	default:
		return err
	}
}

func stateLine(state flow.State) string {
	return "state: " + state.String()
}
