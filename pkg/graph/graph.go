// Package graph implements the directed reasoning graph that drives a
// conversation turn: named nodes, routing edges, and a bounded
// execution loop over the immutable state record.
package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sort"

	"github.com/mazzlabs/sentinel/pkg/domain"
)

// Reserved node names.
const (
	// Start is the reserved entry marker.
	Start = "__start__"

	// End is the reserved terminal marker; routing to it completes
	// the turn.
	End = "__end__"
)

// NodeFunc is one unit of reasoning. It receives the current state and
// returns the next one, and may block on external services for as long
// as ctx allows. A node signals failure by returning an error or by
// setting the state's error field; it must not retain the state it was
// given across calls.
type NodeFunc func(ctx context.Context, s domain.State) (domain.State, error)

// RouteFunc picks the next node name from the current state. It must
// be pure: no side effects, no randomness, or resumed execution
// becomes non-reproducible.
type RouteFunc func(s domain.State) string

type edge struct {
	target     string    // fixed target when route is nil
	route      RouteFunc // conditional routing
	candidates []string  // declared targets of a conditional edge
}

// Builder accumulates nodes, edges and the entry point, then freezes
// them into an immutable Graph. Registration problems are collected
// and reported by Compile.
type Builder struct {
	nodes map[string]NodeFunc
	edges map[string]edge
	entry string
	errs  []error
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{
		nodes: make(map[string]NodeFunc),
		edges: make(map[string]edge),
	}
}

// AddNode registers a named node.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	switch {
	case name == "":
		b.errs = append(b.errs, errors.New("node name must not be empty"))
	case name == Start || name == End:
		b.errs = append(b.errs, fmt.Errorf("node name %q is reserved", name))
	case fn == nil:
		b.errs = append(b.errs, fmt.Errorf("node %q has no function", name))
	default:
		if _, dup := b.nodes[name]; dup {
			b.errs = append(b.errs, fmt.Errorf("node %q already registered", name))
			return b
		}
		b.nodes[name] = fn
	}
	return b
}

// AddEdge registers the unconditional outgoing edge of from. Each node
// has at most one outgoing edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.setEdge(from, edge{target: to})
	return b
}

// AddConditionalEdge registers a state-dependent outgoing edge. The
// optional candidates declare the node names the route may return; they
// are validated at compile time and surfaced by Edges for inspection.
func (b *Builder) AddConditionalEdge(from string, route RouteFunc, candidates ...string) *Builder {
	if route == nil {
		b.errs = append(b.errs, fmt.Errorf("conditional edge from %q has no route", from))
		return b
	}
	b.setEdge(from, edge{route: route, candidates: candidates})
	return b
}

func (b *Builder) setEdge(from string, e edge) {
	if _, dup := b.edges[from]; dup {
		b.errs = append(b.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return
	}
	b.edges[from] = e
}

// SetEntry designates the node execution starts at.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// Compile validates the accumulated definition and freezes it. The
// graph is immutable afterwards; the builder must not be reused.
func (b *Builder) Compile(opts ...Option) (*Graph, error) {
	errs := b.errs
	if len(b.nodes) == 0 {
		errs = append(errs, errors.New("graph has no nodes"))
	}
	if b.entry == "" {
		errs = append(errs, errors.New("graph has no entry node"))
	} else if b.entry != End {
		if _, ok := b.nodes[b.entry]; !ok {
			errs = append(errs, fmt.Errorf("entry node %q is not registered", b.entry))
		}
	}
	for from, e := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge source %q is not registered", from))
		}
		if e.route == nil && e.target != End {
			if _, ok := b.nodes[e.target]; !ok {
				errs = append(errs, fmt.Errorf("edge %s -> %s targets an unregistered node", from, e.target))
			}
		}
		for _, c := range e.candidates {
			if c == End {
				continue
			}
			if _, ok := b.nodes[c]; !ok {
				errs = append(errs, fmt.Errorf("edge %s declares unregistered candidate %q", from, c))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g := &Graph{
		nodes:  maps.Clone(b.nodes),
		edges:  maps.Clone(b.edges),
		entry:  b.entry,
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Option configures a compiled Graph.
type Option func(*Graph)

// WithLogger sets the structured logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithHooks installs lifecycle callbacks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(g *Graph) { g.hooks = hooks }
}

// Graph is a frozen node/edge set ready for Invoke. It is safe for
// concurrent use; all execution state lives in the State record.
type Graph struct {
	nodes  map[string]NodeFunc
	edges  map[string]edge
	entry  string
	logger *slog.Logger
	hooks  domain.LifecycleHooks
}

// Entry returns the designated entry node name.
func (g *Graph) Entry() string {
	return g.entry
}

// Nodes returns the registered node names, sorted.
func (g *Graph) Nodes() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Edge describes one outgoing connection for inspection and
// visualization. A conditional edge yields one Edge per declared
// candidate; a conditional edge that declared none yields a single
// Edge with an empty target.
type Edge struct {
	From        string `json:"from"`
	To          string `json:"to,omitempty"`
	Conditional bool   `json:"conditional,omitempty"`
}

// Edges returns the topology sorted by source node, then target.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for from, e := range g.edges {
		switch {
		case e.route == nil:
			edges = append(edges, Edge{From: from, To: e.target})
		case len(e.candidates) == 0:
			edges = append(edges, Edge{From: from, Conditional: true})
		default:
			for _, c := range e.candidates {
				edges = append(edges, Edge{From: from, To: c, Conditional: true})
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}
