// Package graph renders the compiled reasoning pipeline as a Mermaid
// flowchart, for docs and for inspecting where a conversation stopped.
package graph

import (
	"fmt"
	"strings"

	enginegraph "github.com/mazzlabs/sentinel/pkg/graph"
)

// Overlay contains dynamic conversation data to visualize on the
// topology: the nodes a turn has visited and the one it stopped on.
type Overlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// GenerateMermaid produces Mermaid flowchart syntax (graph TD) for the
// compiled pipeline. The entry and terminal markers render as circles
// and reasoning nodes as rectangles; conditional routes use dotted
// arrows. Overlay styles (visited/current) are applied if provided.
func GenerateMermaid(g *enginegraph.Graph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	sb.WriteString("    __start__((\"start\"))\n")
	for _, name := range g.Nodes() {
		sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", sanitizeMermaidID(name), name))
	}
	sb.WriteString("    __end__((\"end\"))\n")

	sb.WriteString(fmt.Sprintf("    __start__ --> %s\n", sanitizeMermaidID(g.Entry())))
	for _, e := range g.Edges() {
		from := sanitizeMermaidID(e.From)

		arrow := "-->"
		if e.Conditional {
			arrow = "-.->"
		}

		// A conditional route that declared no candidates has an
		// unknowable target; mark it instead of guessing.
		if e.To == "" {
			sb.WriteString(fmt.Sprintf("    %s %s __unknown__{\"?\"}\n", from, arrow))
			continue
		}
		sb.WriteString(fmt.Sprintf("    %s %s %s\n", from, arrow, sanitizeMermaidID(e.To)))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text for contrast regardless of the viewer theme.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}

		if overlay.CurrentNode != "" {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode)))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
