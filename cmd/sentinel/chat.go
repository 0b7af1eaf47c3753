package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mazzlabs/sentinel/internal/cli"
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant interactively",
	Long: `Starts an interactive conversation in the terminal. Each entered line
runs one full turn; decided device actions are printed instead of executed.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		debug, _ := cmd.Flags().GetBool("debug")
		sessionID, _ := cmd.Flags().GetString("session")
		screenFile, _ := cmd.Flags().GetString("screen-file")

		err := cli.RunChat(cli.ChatOptions{
			ConfigPath: configPath,
			SessionID:  sessionID,
			ScreenFile: screenFile,
			Debug:      debug,
		})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringP("session", "s", "", "Conversation id to resume (default: a fresh one)")
	chatCmd.Flags().String("screen-file", "", "File reread every turn as the current screen context")

	// Chat is what you get when no subcommand is given.
	rootCmd.Run = chatCmd.Run
}
