// Package agent assembles the default assistant pipeline: input
// hygiene, prompt construction, the grammar-constrained action
// decision, and the classify/plan/act/respond graph the engine runs
// each turn through.
package agent

import (
	"github.com/mazzlabs/sentinel/pkg/domain"
	"github.com/mazzlabs/sentinel/pkg/graph"
)

// Node names of the default assistant graph.
const (
	NodeClassify = "classify"
	NodePlan     = "plan"
	NodeAct      = "act"
	NodeRespond  = "respond"
)

// BuildGraph compiles the default pipeline around the given node set:
//
//	classify ─┬─ multi_step ──→ plan ──→ act ──→ respond ──→ End
//	          ├─ device_action / capability ──→ act
//	          └─ chat ──→ respond
func BuildGraph(n *Nodes, opts ...graph.Option) (*graph.Graph, error) {
	return graph.New().
		AddNode(NodeClassify, n.Classify).
		AddNode(NodePlan, n.Plan).
		AddNode(NodeAct, n.Act).
		AddNode(NodeRespond, n.Respond).
		SetEntry(NodeClassify).
		AddConditionalEdge(NodeClassify, routeAfterClassify, NodePlan, NodeAct, NodeRespond).
		AddEdge(NodePlan, NodeAct).
		AddConditionalEdge(NodeAct, routeAfterAct, NodeRespond).
		AddEdge(NodeRespond, graph.End).
		Compile(opts...)
}

func routeAfterClassify(s domain.State) string {
	switch s.Intent {
	case domain.IntentMultiStep:
		return NodePlan
	case domain.IntentDeviceAction, domain.IntentCapability:
		return NodeAct
	}
	return NodeRespond
}

// routeAfterAct checks the error state of the finished act step.
// TODO: both branches currently land on respond; decide whether an
// errored act should skip response composition instead.
func routeAfterAct(s domain.State) string {
	if s.HasError() {
		return NodeRespond
	}
	return NodeRespond
}
