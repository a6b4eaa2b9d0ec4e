// Package cli implements the modelctl command-line interface using Cobra.
// Each subcommand maps to one model operation (copy, pull, list, etc.).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	rateLimitFlag string
	logLevelFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "modelctl",
	Short: "modelctl — move AI models between disks and servers",
	Long: `modelctl copies, pulls, lists, removes and renames models across the
local store and Ollama-compatible servers. Blobs already present at the
destination are never sent again.

A location is either "local" or a server address (host, host:port or URL).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rateLimitFlag, "rate-limit", "", `Per-blob bandwidth ceiling, e.g. "50MB" (per second)`)
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error); also logs to stderr")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
