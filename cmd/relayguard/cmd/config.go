package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/relayguard/relayguard/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML, after file loading,
environment overrides, defaults, and dev-mode defaults have been applied.

Useful for debugging why a request landed on an unexpected policy.
Secrets (the Redis password) are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigRaw()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if devMode {
			cfg.DevMode = true
		}
		cfg.SetDevDefaults()

		if cfg.Store.Redis.Password != "" {
			cfg.Store.Redis.Password = "<redacted>"
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}

		if file := config.ConfigFileUsed(); file != "" {
			fmt.Printf("# loaded from %s\n", file)
		} else {
			fmt.Println("# no config file found, defaults and environment only")
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&devMode, "dev", false, "Apply dev-mode defaults before printing")
	rootCmd.AddCommand(configCmd)
}
