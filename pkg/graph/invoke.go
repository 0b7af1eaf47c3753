package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mazzlabs/sentinel/pkg/domain"
)

// Invoke drives state through the graph until the terminal marker, a
// halt, or the iteration bound. Every failure folds into the returned
// state: routing problems, node errors and node panics all come back
// as a completed state with a populated error. The returned Go error
// is non-nil only when ctx ends before the graph does.
func (g *Graph) Invoke(ctx context.Context, initial domain.State) (domain.State, error) {
	state := initial.With(domain.WithCurrentNode(g.entry))

	for state.ShouldContinue() {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		if state.CurrentNode == End {
			state = state.With(domain.WithComplete())
			break
		}

		node, ok := g.nodes[state.CurrentNode]
		if !ok {
			state = state.Advance(domain.WithHalt(domain.HaltRouting,
				fmt.Sprintf("unknown node %q", state.CurrentNode)))
			g.halted(ctx, state)
			break
		}

		g.nodeEvent(ctx, domain.EventNodeEnter, state)
		result, err := g.runNode(ctx, node, state)
		if err != nil {
			// Cancellation is the caller aborting the turn, not a node
			// fault; hand it back without folding it into the state.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return state, err
			}
			state = state.Advance(domain.WithHalt(domain.HaltNodeFault,
				fmt.Sprintf("node %q failed: %v", state.CurrentNode, err)))
			g.halted(ctx, state)
			break
		}
		g.nodeEvent(ctx, domain.EventNodeLeave, result)

		if result.HasError() {
			// The node signalled failure through the state; record the
			// step and stop without routing.
			state = result.Advance()
			g.logger.Warn("node reported error",
				"conversation_id", state.ConversationID,
				"node", state.CurrentNode,
				"err", state.Error)
			break
		}

		e, ok := g.edges[state.CurrentNode]
		if !ok {
			state = result.Advance(domain.WithHalt(domain.HaltRouting,
				fmt.Sprintf("no outgoing edge from %q", state.CurrentNode)))
			g.halted(ctx, state)
			break
		}

		next := e.target
		if e.route != nil {
			next = e.route(result)
		}
		state = result.Advance(domain.WithCurrentNode(next))
	}

	if !state.IsComplete && state.Iteration >= state.MaxIterations {
		state = state.With(domain.WithHalt(domain.HaltIterationBound,
			fmt.Sprintf("iteration bound of %d exceeded", state.MaxIterations)))
		g.halted(ctx, state)
	}

	return state, nil
}

// runNode executes one node, converting a panic into an error so a
// misbehaving node can never take down the host.
func (g *Graph) runNode(ctx context.Context, node NodeFunc, s domain.State) (result domain.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return node(ctx, s)
}

func (g *Graph) nodeEvent(ctx context.Context, kind domain.EventType, s domain.State) {
	g.logger.Debug(string(kind),
		"conversation_id", s.ConversationID,
		"node", s.CurrentNode,
		"iteration", s.Iteration)

	var hook func(context.Context, *domain.NodeEvent)
	switch kind {
	case domain.EventNodeEnter:
		hook = g.hooks.OnNodeEnter
	case domain.EventNodeLeave:
		hook = g.hooks.OnNodeLeave
	}
	if hook != nil {
		hook(ctx, &domain.NodeEvent{
			Timestamp:      time.Now(),
			Type:           kind,
			ConversationID: s.ConversationID,
			Node:           s.CurrentNode,
			Iteration:      s.Iteration,
		})
	}
}

func (g *Graph) halted(ctx context.Context, s domain.State) {
	g.logger.Warn("graph halted",
		"conversation_id", s.ConversationID,
		"node", s.CurrentNode,
		"reason", string(s.HaltReason),
		"err", s.Error)

	if g.hooks.OnHalt != nil {
		g.hooks.OnHalt(ctx, &domain.HaltEvent{
			Timestamp:      time.Now(),
			ConversationID: s.ConversationID,
			Node:           s.CurrentNode,
			Reason:         s.HaltReason,
			Error:          s.Error,
		})
	}
}
