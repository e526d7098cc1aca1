package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "chain-orch",
		Short: "Claude Chain Orchestrator - run graphs of AI, shell and HTTP steps",
		Long: `Claude Chain Orchestrator executes user-defined chains: directed graphs of
AI prompts, shell commands, HTTP requests, conditions, loops, delays,
notifications and sub-chains. Chains are stored locally, can be imported
from YAML or JSON files, started from templates and run on cron schedules.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
