package sentinel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mazzlabs/sentinel/internal/agent"
	"github.com/mazzlabs/sentinel/internal/logging"
	"github.com/mazzlabs/sentinel/pkg/adapters/llamacpp"
	"github.com/mazzlabs/sentinel/pkg/domain"
	"github.com/mazzlabs/sentinel/pkg/graph"
	"github.com/mazzlabs/sentinel/pkg/observability"
	"github.com/mazzlabs/sentinel/pkg/ports"
	"github.com/mazzlabs/sentinel/pkg/session"
)

// Turn outcomes recorded by the metrics, when metrics are wired.
const (
	outcomeCompleted   = "completed"
	outcomeHalted      = "halted"
	outcomeSuperseded  = "superseded"
	outcomeInterrupted = "interrupted"
)

// Engine is the high-level entry point. It owns the session store, the
// per-conversation turn manager, and a compiled reasoning graph, and
// runs full conversation turns against them.
type Engine struct {
	store     ports.SessionStore
	manager   *session.Manager
	inference ports.InferenceClient
	caps      ports.Capabilities
	graph     *graph.Graph
	hooks     domain.LifecycleHooks
	metrics   Metrics
	locker    ports.DistributedLocker
	logger    *slog.Logger
}

// Metrics is the slice of pkg/observability the engine feeds: per-turn
// outcome accounting. Nil disables it.
type Metrics interface {
	ObserveTurn(outcome string, elapsed time.Duration)
	Hooks() domain.LifecycleHooks
}

// New assembles an Engine. Without options it talks to a llama.cpp
// server on localhost, persists sessions to the default file store,
// and runs the default assistant graph.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(e)
	}

	if e.inference == nil {
		e.inference = llamacpp.NewClient(llamacpp.Config{})
	}
	if e.store == nil {
		e.store = session.Open("", session.WithLogger(e.logger))
	}

	managerOpts := []session.ManagerOption{session.WithManagerLogger(e.logger)}
	if e.locker != nil {
		managerOpts = append(managerOpts, session.WithLocker(e.locker))
	}
	e.manager = session.NewManager(e.store, managerOpts...)

	if e.graph == nil {
		hooks := e.hooks
		if e.metrics != nil {
			hooks = observability.JoinHooks(e.hooks, e.metrics.Hooks())
		}
		nodes := agent.NewNodes(e.inference,
			agent.WithCapabilities(e.caps),
			agent.WithLogger(e.logger),
		)
		g, err := agent.BuildGraph(nodes,
			graph.WithLogger(e.logger),
			graph.WithHooks(hooks),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build default graph: %w", err)
		}
		e.graph = g
	}

	return e, nil
}

// RunTurn executes one full conversation turn: input hygiene, session
// load, graph invocation, and persistence under latest-wins
// supersession. The returned state is the turn's final record even
// when it halted; the error is non-nil only when the turn could not
// run (rejected input, store failure) or was canceled mid-flight.
//
// Starting a new turn for a conversation cancels the conversation's
// previous in-flight turn; the superseded result is discarded.
func (e *Engine) RunTurn(ctx context.Context, conversationID, query, screenContext string) (domain.State, error) {
	if conversationID == "" {
		return domain.State{}, fmt.Errorf("conversation id must not be empty")
	}

	cleanQuery, err := agent.SanitizeQuery(query)
	if err != nil {
		return domain.State{}, fmt.Errorf("query rejected: %w", err)
	}
	if agent.ContainsInjection(cleanQuery) {
		return domain.State{}, fmt.Errorf("query rejected: %w", domain.ErrInjectionDetected)
	}

	// The environment snapshot is advisory: a bad or hostile one is
	// dropped rather than failing the user's turn.
	screen, err := agent.SanitizeScreenContext(screenContext)
	if err != nil {
		e.logger.Warn("dropping screen context",
			"conversation_id", conversationID, "err", err)
		screen = ""
	}
	if screen != "" && agent.ContainsInjection(screen) {
		e.logger.Warn("dropping screen context carrying injection markers",
			"conversation_id", conversationID)
		screen = ""
	}

	turnCtx, ticket := e.manager.Begin(ctx, conversationID)
	defer e.manager.Finish(ticket)

	start := time.Now()

	stored, err := e.manager.GetOrCreate(turnCtx, conversationID)
	if err != nil {
		return domain.State{}, fmt.Errorf("failed to load session: %w", err)
	}

	final, err := e.graph.Invoke(turnCtx, domain.NewTurn(stored, cleanQuery, screen))
	if err != nil {
		// Canceled mid-flight: either the caller gave up or a newer
		// turn superseded this one.
		outcome := outcomeInterrupted
		if ctx.Err() == nil {
			outcome = outcomeSuperseded
		}
		e.observe(outcome, start)
		return final, err
	}

	accepted, err := e.manager.Commit(ctx, ticket, final)
	if err != nil {
		return final, fmt.Errorf("failed to persist turn: %w", err)
	}

	switch {
	case !accepted:
		e.logger.Info("turn superseded, result dropped",
			"conversation_id", conversationID)
		e.observe(outcomeSuperseded, start)
	case final.HaltReason != domain.HaltNone:
		e.observe(outcomeHalted, start)
	default:
		e.observe(outcomeCompleted, start)
	}
	return final, nil
}

// Sessions lists the stored conversation ids, sorted.
func (e *Engine) Sessions(ctx context.Context) ([]string, error) {
	return e.manager.List(ctx)
}

// Session returns the stored state for one conversation.
func (e *Engine) Session(ctx context.Context, conversationID string) (domain.State, error) {
	return e.manager.Get(ctx, conversationID)
}

// DeleteSession removes one conversation's stored state.
func (e *Engine) DeleteSession(ctx context.Context, conversationID string) error {
	return e.manager.Delete(ctx, conversationID)
}

// Manager exposes the turn manager for embedders that drive turns
// themselves.
func (e *Engine) Manager() *session.Manager {
	return e.manager
}

func (e *Engine) observe(outcome string, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveTurn(outcome, time.Since(start))
	}
}
