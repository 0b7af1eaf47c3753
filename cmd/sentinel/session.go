package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mazzlabs/sentinel/internal/cli"
	"github.com/mazzlabs/sentinel/internal/config"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored conversations",
	Long:  `List, inspect, and remove conversations from the configured session store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored conversations",
	Run: func(cmd *cobra.Command, args []string) {
		handle := getStore(cmd)
		defer handle.Close()

		sessions, err := handle.Store.List(cmd.Context())
		if err != nil {
			fmt.Printf("Error listing sessions: %v\n", err)
			os.Exit(1)
		}

		if len(sessions) == 0 {
			fmt.Println("No stored conversations found.")
			return
		}

		fmt.Println("Stored conversations:")
		for _, s := range sessions {
			fmt.Println("- " + s)
		}
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <conversation-id>",
	Short: "Inspect the state of a conversation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		conversationID := args[0]
		handle := getStore(cmd)
		defer handle.Close()

		state, err := handle.Store.Get(cmd.Context(), conversationID)
		if err != nil {
			fmt.Printf("Error loading session '%s': %v\n", conversationID, err)
			os.Exit(1)
		}

		// Pretty print JSON
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			fmt.Printf("Error marshaling state: %v\n", err)
			os.Exit(1)
		}

		fmt.Println(string(data))
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <conversation-id>...",
	Short: "Remove one or more conversations",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		handle := getStore(cmd)
		defer handle.Close()

		hasError := false
		for _, conversationID := range args {
			if err := handle.Store.Delete(cmd.Context(), conversationID); err != nil {
				fmt.Printf("Error removing '%s': %v\n", conversationID, err)
				hasError = true
			} else {
				fmt.Printf("Removed conversation '%s'\n", conversationID)
			}
		}

		if hasError {
			os.Exit(1)
		}
	},
}

// TODO: Add support for --all flag in rm command

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)
}

func getStore(cmd *cobra.Command) *cli.StoreHandle {
	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	handle, err := cli.OpenStore(cfg, cli.NewLogger(cfg, debug))
	if err != nil {
		fmt.Printf("Error opening session store: %v\n", err)
		os.Exit(1)
	}
	return handle
}
