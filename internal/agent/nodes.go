package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mazzlabs/sentinel/internal/logging"
	"github.com/mazzlabs/sentinel/pkg/domain"
	"github.com/mazzlabs/sentinel/pkg/extract"
	"github.com/mazzlabs/sentinel/pkg/ports"
)

// Failure codes the nodes fold into capability results.
const (
	codeNoCapabilityHost = "no_capability_host"
	codeCapabilityParse  = "capability_parse"
)

// Nodes implements the default assistant pipeline. Each method is a
// graph.NodeFunc: it prompts, extracts, and folds its outcome into the
// state it returns. Nodes never mutate the state they receive.
type Nodes struct {
	inference ports.InferenceClient
	caps      ports.Capabilities
	logger    *slog.Logger
	sampling  Sampling
}

// NodesOption configures Nodes.
type NodesOption func(*Nodes)

// WithCapabilities wires the capability host. Without one, capability
// steps fold failures instead of invoking anything.
func WithCapabilities(caps ports.Capabilities) NodesOption {
	return func(n *Nodes) { n.caps = caps }
}

// WithLogger sets the structured logger. The default discards.
func WithLogger(logger *slog.Logger) NodesOption {
	return func(n *Nodes) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithSampling overrides the completion parameters.
func WithSampling(s Sampling) NodesOption {
	return func(n *Nodes) { n.sampling = s }
}

// NewNodes builds the node set around an inference backend.
func NewNodes(inference ports.InferenceClient, opts ...NodesOption) *Nodes {
	n := &Nodes{
		inference: inference,
		logger:    logging.NewNop(),
		sampling:  DefaultSampling(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Classify determines the intent of the user query and pulls out
// entities. An unparseable classification degrades to the chat intent
// rather than failing the turn.
func (n *Nodes) Classify(ctx context.Context, s domain.State) (domain.State, error) {
	out, err := n.complete(ctx, buildClassifyPrompt(s), "")
	if err != nil {
		return s, fmt.Errorf("classify: %w", err)
	}

	obj, ok := extract.Extract(out).(extract.Object)
	if !ok {
		n.logger.Warn("classification did not parse, treating as chat",
			"conversation_id", s.ConversationID)
		return s.With(domain.WithIntent(domain.IntentChat, 0)), nil
	}

	intent := parseIntent(asString(obj.Value["intent"]))
	changes := []domain.Change{domain.WithIntent(intent, asFloat(obj.Value["confidence"]))}
	if entities := asStringMap(obj.Value["entities"]); len(entities) > 0 {
		changes = append(changes, domain.WithEntities(entities))
	}
	return s.With(changes...), nil
}

// Plan asks the model to break a multi-step goal into ordered
// capability steps and raises the iteration budget for the longer
// turn. A goal the model cannot decompose falls through to Act's
// single-call path.
func (n *Nodes) Plan(ctx context.Context, s domain.State) (domain.State, error) {
	out, err := n.complete(ctx, buildPlanPrompt(s), "")
	if err != nil {
		return s, fmt.Errorf("plan: %w", err)
	}

	obj, ok := extract.Extract(out).(extract.Object)
	if !ok {
		n.logger.Warn("plan did not parse, falling back to a single call",
			"conversation_id", s.ConversationID)
		return s, nil
	}
	plan := planFromObject(obj.Value)
	if plan == nil || len(plan.Steps) == 0 {
		n.logger.Warn("plan has no steps, falling back to a single call",
			"conversation_id", s.ConversationID)
		return s, nil
	}

	n.logger.Info("plan built",
		"conversation_id", s.ConversationID,
		"goal", plan.Goal,
		"steps", len(plan.Steps))
	return s.With(
		domain.WithPlan(plan),
		domain.WithMaxIterations(domain.PlanMaxIterations),
	), nil
}

// Act performs the turn's work: it walks a pending plan, invokes a
// single capability, or decides a device action, depending on what
// classification produced.
func (n *Nodes) Act(ctx context.Context, s domain.State) (domain.State, error) {
	switch {
	case !s.Plan.Done():
		return n.runPlan(ctx, s)
	case s.Intent == domain.IntentCapability:
		return n.invokeCapability(ctx, s)
	default:
		return n.decideAction(ctx, s)
	}
}

// runPlan executes the remaining plan steps in order, folding each
// outcome. A failure or a handoff to the user stops the walk with the
// plan position preserved.
func (n *Nodes) runPlan(ctx context.Context, s domain.State) (domain.State, error) {
	if n.caps == nil {
		return s.With(domain.WithCapabilityResult(domain.CapabilityFailure{
			Code:    codeNoCapabilityHost,
			Message: "no capability host configured",
		})), nil
	}

	next := s
	plan := s.Plan.Clone()
	for {
		step, ok := plan.Step()
		if !ok {
			break
		}
		result := n.caps.Invoke(ctx, domain.CapabilityRequest{
			Capability: step.Capability,
			Operation:  step.Operation,
			Params:     step.Params,
		})
		next = next.With(domain.WithCapabilityResult(result))

		if stop, needsInput := stopsPlan(result); stop {
			return next.With(
				domain.WithPlan(plan),
				domain.WithNeedsUserInput(needsInput),
			), nil
		}
		plan = plan.Advanced()
	}
	return next.With(domain.WithPlan(plan)), nil
}

// invokeCapability asks the model which capability call serves the
// query, then performs it.
func (n *Nodes) invokeCapability(ctx context.Context, s domain.State) (domain.State, error) {
	if n.caps == nil {
		return s.With(domain.WithCapabilityResult(domain.CapabilityFailure{
			Code:    codeNoCapabilityHost,
			Message: "no capability host configured",
		})), nil
	}

	out, err := n.complete(ctx, buildCapabilityPrompt(s), "")
	if err != nil {
		return s, fmt.Errorf("capability selection: %w", err)
	}

	obj, ok := extract.Extract(out).(extract.Object)
	if !ok {
		return s.With(domain.WithCapabilityResult(domain.CapabilityFailure{
			Code:    codeCapabilityParse,
			Message: "could not understand which capability to use",
		})), nil
	}

	capability := asString(obj.Value["capability"])
	operation := asString(obj.Value["operation"])
	params := asAnyMap(obj.Value["params"])

	result := n.caps.Invoke(ctx, domain.CapabilityRequest{
		Capability: capability,
		Operation:  operation,
		Params:     params,
	})
	_, needsInput := stopsPlan(result)
	return s.With(
		domain.WithCapability(capability, params),
		domain.WithCapabilityResult(result),
		domain.WithNeedsUserInput(needsInput),
	), nil
}

// decideAction asks for a grammar-constrained device action. If the
// constrained completion does not parse, one unconstrained retry runs
// before the node settles on an explicit no-op.
func (n *Nodes) decideAction(ctx context.Context, s domain.State) (domain.State, error) {
	prompt := buildActionPrompt(s)

	out, err := n.complete(ctx, prompt, ActionGrammar)
	if err != nil {
		return s, fmt.Errorf("act: %w", err)
	}
	action, perr := actionFromText(out)
	if perr != nil {
		n.logger.Warn("constrained decision did not parse, retrying unconstrained",
			"conversation_id", s.ConversationID,
			"err", perr)
		out, err = n.complete(ctx, prompt, "")
		if err != nil {
			return s, fmt.Errorf("act retry: %w", err)
		}
		action, perr = actionFromText(out)
	}
	if perr != nil {
		action = domain.NoAction("could not parse a device action from the model output")
	}
	return s.With(domain.WithFinalAction(action)), nil
}

// Respond composes the turn's reply. Turns that produced a capability
// result or a device action are answered deterministically; plain chat
// asks the model for a free-form reply.
func (n *Nodes) Respond(ctx context.Context, s domain.State) (domain.State, error) {
	if text, needsInput, ok := composedResponse(s); ok {
		return s.With(
			domain.WithResponse(text),
			domain.WithNeedsUserInput(needsInput),
		), nil
	}

	out, err := n.complete(ctx, buildChatPrompt(s), "")
	if err != nil {
		return s, fmt.Errorf("respond: %w", err)
	}
	return s.With(domain.WithResponse(strings.TrimSpace(out))), nil
}

func (n *Nodes) complete(ctx context.Context, prompt, grammar string) (string, error) {
	return n.inference.Complete(ctx, ports.CompletionRequest{
		Prompt:      prompt,
		Grammar:     grammar,
		Temperature: n.sampling.Temperature,
		TopP:        n.sampling.TopP,
		MaxTokens:   n.sampling.MaxTokens,
	})
}

// composedResponse derives the reply from folded results, newest
// outcome first. ok is false when nothing was folded and the reply
// must come from the model.
func composedResponse(s domain.State) (text string, needsInput bool, ok bool) {
	if len(s.CapabilityResults) > 0 {
		switch last := s.CapabilityResults[len(s.CapabilityResults)-1].(type) {
		case domain.CapabilitySuccess:
			if last.Message == "" {
				return "Done.", false, true
			}
			return last.Message, false, true
		case domain.CapabilityFailure:
			return fmt.Sprintf("Sorry, that didn't work: %s", last.Message), false, true
		case domain.PermissionNeeded:
			return fmt.Sprintf("I need these permissions first: %s",
				strings.Join(last.Permissions, ", ")), true, true
		case domain.ConfirmationNeeded:
			if last.Message == "" {
				return "Please confirm before I continue.", true, true
			}
			return last.Message, true, true
		}
	}
	if s.FinalAction != nil {
		if s.FinalAction.Reasoning != "" {
			return s.FinalAction.Reasoning, false, true
		}
		if s.FinalAction.Kind == domain.ActionNone {
			return "Nothing to do.", false, true
		}
		return fmt.Sprintf("Performing %s.", strings.ToLower(string(s.FinalAction.Kind))), false, true
	}
	return "", false, false
}

// stopsPlan classifies a capability result: failures stop the walk,
// permission and confirmation results additionally hand control back
// to the user.
func stopsPlan(result domain.CapabilityResult) (stop, needsInput bool) {
	switch result.(type) {
	case domain.CapabilityFailure:
		return true, false
	case domain.PermissionNeeded, domain.ConfirmationNeeded:
		return true, true
	}
	return false, false
}

func actionFromText(text string) (*domain.Action, error) {
	obj, ok := extract.Extract(text).(extract.Object)
	if !ok {
		return nil, fmt.Errorf("no action object in completion")
	}
	return domain.ParseAction(obj.Value)
}

func parseIntent(raw string) domain.Intent {
	switch domain.Intent(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.IntentDeviceAction:
		return domain.IntentDeviceAction
	case domain.IntentCapability:
		return domain.IntentCapability
	case domain.IntentMultiStep:
		return domain.IntentMultiStep
	case domain.IntentChat:
		return domain.IntentChat
	}
	return domain.IntentChat
}

func planFromObject(obj map[string]any) *domain.Plan {
	steps, ok := obj["steps"].([]any)
	if !ok {
		return nil
	}
	plan := &domain.Plan{Goal: asString(obj["goal"])}
	for _, raw := range steps {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		plan.Steps = append(plan.Steps, domain.PlanStep{
			Description: asString(entry["description"]),
			Capability:  asString(entry["capability"]),
			Operation:   asString(entry["operation"]),
			Params:      asAnyMap(entry["params"]),
		})
	}
	return plan
}

// Extracted values carry json.Number for numerics; these converters
// bring them into the state's field types.

func asString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	}
	return ""
}

func asFloat(v any) float64 {
	switch value := v.(type) {
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return 0
		}
		return f
	case float64:
		return value
	}
	return 0
}

func asStringMap(v any) map[string]string {
	raw, ok := v.(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, value := range raw {
		if s := asString(value); s != "" {
			out[k] = s
		}
	}
	return out
}

func asAnyMap(v any) map[string]any {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return raw
}
