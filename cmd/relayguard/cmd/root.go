// Package cmd provides the CLI commands for Relayguard.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relayguard/relayguard/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "relayguard",
	Short: "Relayguard - request governance for JSON APIs",
	Long: `Relayguard fronts a JSON API backend with per-client rate limiting
and response caching, without requiring changes to the backend itself.

Requests are admitted against sliding-window quotas resolved per principal,
role, path, or CEL rule. Idempotent responses are cached per category with
TTLs, and successful writes invalidate the affected cache families.

Quick start:
  1. Create a config file: relayguard.yaml
  2. Run: relayguard start

Configuration:
  Config is loaded from relayguard.yaml in the current directory,
  $HOME/.relayguard/, or /etc/relayguard/.

  Environment variables can override config values with the RELAYGUARD_ prefix.
  Example: RELAYGUARD_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the governance proxy
  hash-token  Generate a hash for a bearer token
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./relayguard.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
