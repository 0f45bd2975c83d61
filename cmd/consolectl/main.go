// Package main is the entry point for consolectl.
package main

import (
	"os"

	"github.com/giantswarm/console-core/cmd/consolectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
