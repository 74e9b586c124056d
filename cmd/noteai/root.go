package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "noteai",
	Short: "AI text service with per-user usage quotas",
	Long: `noteai serves AI-backed text optimization and content classification
with per-user daily and monthly usage quotas.

Quick start:
  noteai serve            # Start the HTTP API server

Management:
  noteai quota show       # Inspect a user's quota
  noteai quota reset      # Reset a user's quota window
  noteai validate         # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "noteai.yaml", "config file path")
}
