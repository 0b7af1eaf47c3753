package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mazzlabs/sentinel/internal/agent"
	presentation "github.com/mazzlabs/sentinel/internal/presentation/graph"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the turn pipeline visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the reasoning pipeline. With
--session, the nodes visited by the conversation's last turn are highlighted.`,
	Run: func(cmd *cobra.Command, args []string) {
		sessionID, _ := cmd.Flags().GetString("session")

		// The topology is static; no inference backend is needed to draw it.
		g, err := agent.BuildGraph(agent.NewNodes(nil))
		if err != nil {
			fmt.Printf("Error building graph: %v\n", err)
			os.Exit(1)
		}

		var overlay *presentation.Overlay
		if sessionID != "" {
			handle := getStore(cmd)
			defer handle.Close()

			state, err := handle.Store.Get(cmd.Context(), sessionID)
			if err != nil {
				fmt.Printf("Error loading session '%s': %v\n", sessionID, err)
				os.Exit(1)
			}
			overlay = &presentation.Overlay{
				VisitedNodes: state.VisitedNodes,
				CurrentNode:  state.CurrentNode,
			}
		}

		fmt.Print(presentation.GenerateMermaid(g, overlay))
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("session", "s", "", "Conversation id whose last turn to overlay")
}
