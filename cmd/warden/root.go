package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - self-updating web application firewall proxy",
	Long: `Warden is an inline enforcement proxy for HTTP backends.

Every request is matched against the live rule generation before it is
forwarded. Blocked and suspicious traffic is sampled; on a schedule an
LLM drafts candidate rules from the sampled incidents, the candidates
are verified by replaying labeled traffic, and only verified generations
are published to the live path. Every generation is durable and can be
rolled back.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
}
