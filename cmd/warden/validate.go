package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"warden-hq/warden/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without starting the proxy.

Defaults and WARDEN_* environment overrides are applied first, so the
result reflects exactly what "warden run" would use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("configuration is valid\n")
		fmt.Printf("  listen:  %s\n", cfg.Server.ListenAddress)
		fmt.Printf("  backend: %s\n", cfg.Backend.Target)
		if cfg.Lifecycle.Schedule != "" {
			fmt.Printf("  cycle:   %s\n", cfg.Lifecycle.Schedule)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
