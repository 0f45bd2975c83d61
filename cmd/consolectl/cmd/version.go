package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// These variables are set at build time via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "consolectl", Version, "("+GitCommit+")")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
