package graph_test

import (
	"context"
	"strings"
	"testing"

	"github.com/mazzlabs/sentinel/internal/presentation/graph"
	"github.com/mazzlabs/sentinel/pkg/domain"
	enginegraph "github.com/mazzlabs/sentinel/pkg/graph"
)

func passThrough(_ context.Context, s domain.State) (domain.State, error) {
	return s, nil
}

func compile(t *testing.T, b *enginegraph.Builder) *enginegraph.Graph {
	t.Helper()
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return g
}

func TestGenerateMermaid(t *testing.T) {
	g := compile(t, enginegraph.New().
		AddNode("classify", passThrough).
		AddNode("act", passThrough).
		AddNode("respond", passThrough).
		SetEntry("classify").
		AddConditionalEdge("classify", func(domain.State) string { return "act" }, "act", "respond").
		AddEdge("act", "respond").
		AddEdge("respond", enginegraph.End))

	got := graph.GenerateMermaid(g, nil)

	for _, want := range []string{
		"graph TD",
		`__start__(("start"))`,
		`classify["classify"]`,
		`__end__(("end"))`,
		"__start__ --> classify",
		"classify -.-> act",
		"classify -.-> respond",
		"act --> respond",
		"respond --> __end__",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, want)
		}
	}
}

func TestGenerateMermaid_UndeclaredRoute(t *testing.T) {
	g := compile(t, enginegraph.New().
		AddNode("only", passThrough).
		SetEntry("only").
		AddConditionalEdge("only", func(domain.State) string { return enginegraph.End }))

	got := graph.GenerateMermaid(g, nil)

	if !strings.Contains(got, `only -.-> __unknown__{"?"}`) {
		t.Errorf("expected unknown-target marker, got:\n%v", got)
	}
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	g := compile(t, enginegraph.New().
		AddNode("classify", passThrough).
		AddNode("respond", passThrough).
		SetEntry("classify").
		AddEdge("classify", "respond").
		AddEdge("respond", enginegraph.End))

	got := graph.GenerateMermaid(g, &graph.Overlay{
		VisitedNodes: []string{"classify", "classify", "respond"},
		CurrentNode:  "respond",
	})

	if strings.Count(got, "class classify visited;") != 1 {
		t.Errorf("expected deduplicated visited style, got:\n%v", got)
	}
	if !strings.Contains(got, "class respond current;") {
		t.Errorf("expected current style, got:\n%v", got)
	}
}
