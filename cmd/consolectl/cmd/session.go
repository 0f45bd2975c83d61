package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	console "github.com/giantswarm/console-core"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(session *console.Session) error {
			c := session.Credential()
			if c == nil {
				return errNotSignedIn
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subject: %s\n", c.Claims.Subject)
			if c.Claims.Email != "" {
				fmt.Fprintf(out, "email:   %s\n", c.Claims.Email)
			}
			if len(c.Claims.Groups) > 0 {
				fmt.Fprintf(out, "groups:  %v\n", c.Claims.Groups)
			}
			if !c.Expiry.IsZero() {
				fmt.Fprintf(out, "expires: %s\n", c.Expiry.Local().Format("2006-01-02 15:04:05"))
			}
			fmt.Fprintln(out, stateLine(session.State()))
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(session *console.Session) error {
			if err := session.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credential valid until %s\n", session.Credential().Expiry.Local().Format("2006-01-02 15:04:05"))
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and revoke the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(session *console.Session) error {
			if !session.Authenticated() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			session.SignOut(context.WithoutCancel(cmd.Context()))
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(logoutCmd)
}
