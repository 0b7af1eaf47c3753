package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Sentinel is an on-device conversational assistant engine",
	Long: `Sentinel runs the reasoning core of a device assistant: it classifies
queries, plans and decides device actions, and keeps per-conversation
session state. Running it with no subcommand opens an interactive chat.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the config file (default sentinel.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging and pipeline tracing")
}
