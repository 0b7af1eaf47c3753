package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mazzlabs/sentinel/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for consistency",
	Long: `Loads the config file, checks enum fields and redact pattern syntax,
and resolves the session encryption key from the environment.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(cmd); err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid! ✅")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Load validates field values; the key needs the environment.
	if _, err := cfg.EncryptionKey(); err != nil {
		return err
	}

	return nil
}
