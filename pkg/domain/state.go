package domain

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultMaxIterations bounds a single-action turn.
	DefaultMaxIterations = 5

	// PlanMaxIterations bounds a turn that executes a multi-step plan.
	PlanMaxIterations = 10

	// MaxEntities caps the extracted-entity mapping per turn.
	MaxEntities = 20

	// MaxHistoryPerSession caps the archived conversation history, in
	// messages. Session stores truncate to the newest entries on update.
	MaxHistoryPerSession = 50
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Intent is the classified purpose of a user query.
type Intent string

const (
	IntentUnknown      Intent = ""
	IntentDeviceAction Intent = "device_action"
	IntentCapability   Intent = "capability"
	IntentMultiStep    Intent = "multi_step"
	IntentChat         Intent = "chat"
)

// PlanStep is a single unit of a multi-step plan.
type PlanStep struct {
	Description string         `json:"description"`
	Capability  string         `json:"capability,omitempty"`
	Operation   string         `json:"operation,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// Plan tracks multi-step execution across graph iterations.
type Plan struct {
	Goal        string     `json:"goal"`
	Steps       []PlanStep `json:"steps"`
	CurrentStep int        `json:"current_step"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	next := *p
	next.Steps = slices.Clone(p.Steps)
	for i := range next.Steps {
		next.Steps[i].Params = maps.Clone(next.Steps[i].Params)
	}
	return &next
}

// Step returns the step at CurrentStep, or false when the plan is done.
func (p *Plan) Step() (PlanStep, bool) {
	if p == nil || p.CurrentStep >= len(p.Steps) {
		return PlanStep{}, false
	}
	return p.Steps[p.CurrentStep], true
}

// Advanced returns a copy with CurrentStep moved forward by one,
// capped at the step count.
func (p *Plan) Advanced() *Plan {
	next := p.Clone()
	if next == nil {
		return nil
	}
	if next.CurrentStep < len(next.Steps) {
		next.CurrentStep++
	}
	return next
}

// Done reports whether every step has been executed.
func (p *Plan) Done() bool {
	return p == nil || p.CurrentStep >= len(p.Steps)
}

// State is the immutable working memory of one conversation turn.
// Every mutation produces a new value; nodes receive a State and return
// a new one built with With, while the graph executor records each
// executed step through Advance. Slices and maps are copied one level
// deep on every mutation, so holders of an old State never observe a
// newer one; nodes must not mutate nested structures in place.
type State struct {
	// ConversationID ties the state to its session.
	ConversationID string `json:"conversation_id"`

	// UserQuery and ScreenContext are the opaque caller inputs for
	// this turn, sanitized upstream.
	UserQuery     string `json:"user_query,omitempty"`
	ScreenContext string `json:"screen_context,omitempty"`

	// History is the cross-turn conversation transcript. The session
	// store appends the completed turn and enforces the length bound.
	History []Message `json:"history,omitempty"`

	// Plan is non-nil only while a multi-step plan is executing.
	Plan *Plan `json:"plan,omitempty"`

	// CurrentNode names the node about to run or that just ran.
	CurrentNode string `json:"current_node,omitempty"`

	// Classification outputs.
	Intent     Intent            `json:"intent,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Entities   map[string]string `json:"entities,omitempty"`

	// Capability selection and outcomes.
	Capability        string            `json:"capability,omitempty"`
	CapabilityInput   map[string]any    `json:"capability_input,omitempty"`
	CapabilityResults CapabilityResults `json:"capability_results,omitempty"`

	// Turn outputs.
	Response       string  `json:"response,omitempty"`
	FinalAction    *Action `json:"final_action,omitempty"`
	NeedsUserInput bool    `json:"needs_user_input,omitempty"`

	// Termination. A non-empty Error always comes with IsComplete set;
	// HaltReason classifies executor-level halts.
	IsComplete bool       `json:"is_complete"`
	Error      string     `json:"error,omitempty"`
	HaltReason HaltReason `json:"halt_reason,omitempty"`

	// Audit trail: one VisitedNodes entry per executed step, kept in
	// lockstep with Iteration.
	VisitedNodes []string `json:"visited_nodes,omitempty"`

	Iteration     int `json:"iteration"`
	MaxIterations int `json:"max_iterations"`
}

// NewState returns an empty state for a conversation.
func NewState(conversationID string) State {
	return State{
		ConversationID: conversationID,
		MaxIterations:  DefaultMaxIterations,
	}
}

// NewTurn begins a fresh turn on top of a stored state: the
// conversation identity and history carry over, every per-turn field
// resets.
func NewTurn(prev State, query, screenContext string) State {
	next := NewState(prev.ConversationID)
	next.History = slices.Clone(prev.History)
	next.UserQuery = query
	next.ScreenContext = screenContext
	return next
}

// Change mutates the draft copy inside With or Advance.
type Change func(*State)

// With returns a copy with the given field changes applied. The audit
// trail is untouched; nodes use With to fold their outputs into the
// state they return.
func (s State) With(changes ...Change) State {
	next := s.Clone()
	for _, change := range changes {
		change(&next)
	}
	return next
}

// Advance returns a copy with the audit trail extended: the previous
// CurrentNode is appended to VisitedNodes and Iteration incremented,
// then the changes are applied. The graph executor calls Advance
// exactly once per executed step; a call with no changes still records
// the step.
func (s State) Advance(changes ...Change) State {
	next := s.Clone()
	next.VisitedNodes = append(next.VisitedNodes, s.CurrentNode)
	next.Iteration++
	for _, change := range changes {
		change(&next)
	}
	return next
}

// Clone returns a copy that shares no mutable containers with s.
func (s State) Clone() State {
	next := s
	next.History = slices.Clone(s.History)
	next.VisitedNodes = slices.Clone(s.VisitedNodes)
	next.Entities = maps.Clone(s.Entities)
	next.CapabilityInput = maps.Clone(s.CapabilityInput)
	next.CapabilityResults = slices.Clone(s.CapabilityResults)
	next.Plan = s.Plan.Clone()
	if s.FinalAction != nil {
		action := *s.FinalAction
		next.FinalAction = &action
	}
	return next
}

// HasError reports whether the turn carries an error.
func (s State) HasError() bool {
	return s.Error != ""
}

// ShouldContinue is the executor's sole admission test: the loop runs
// only while the turn is incomplete, under budget, and error-free.
func (s State) ShouldContinue() bool {
	return !s.IsComplete && s.Iteration < s.MaxIterations && !s.HasError()
}

// ArchiveTurn folds the finished turn into the conversation history:
// the user query and the assistant response are appended as messages
// and the history is truncated to the newest limit entries. Blank
// sides of the exchange are skipped so a halted turn does not archive
// an empty response. limit <= 0 leaves the history unbounded.
func (s State) ArchiveTurn(limit int) State {
	next := s.Clone()
	now := time.Now().UTC()
	if query := strings.TrimSpace(next.UserQuery); query != "" {
		next.History = append(next.History, Message{Role: RoleUser, Content: query, Timestamp: now})
	}
	if response := strings.TrimSpace(next.Response); response != "" {
		next.History = append(next.History, Message{Role: RoleAssistant, Content: response, Timestamp: now})
	}
	if limit > 0 && len(next.History) > limit {
		next.History = slices.Clone(next.History[len(next.History)-limit:])
	}
	return next
}

// WithCurrentNode points the state at the named node.
func WithCurrentNode(name string) Change {
	return func(s *State) { s.CurrentNode = name }
}

// WithComplete marks the turn finished.
func WithComplete() Change {
	return func(s *State) { s.IsComplete = true }
}

// WithError records a turn failure. Completion is set together with
// the error so an errored state is always terminal.
func WithError(msg string) Change {
	return func(s *State) {
		s.Error = msg
		s.IsComplete = true
	}
}

// WithHalt records an executor-level failure with its classification.
func WithHalt(reason HaltReason, msg string) Change {
	return func(s *State) {
		s.Error = msg
		s.HaltReason = reason
		s.IsComplete = true
	}
}

// WithIntent records the classification outcome. Confidence is clamped
// to [0, 1].
func WithIntent(intent Intent, confidence float64) Change {
	return func(s *State) {
		s.Intent = intent
		s.Confidence = min(max(confidence, 0), 1)
	}
}

// WithEntities records extracted entities, keeping at most MaxEntities
// entries. Overflow is resolved deterministically: keys are sorted and
// the smallest MaxEntities survive.
func WithEntities(entities map[string]string) Change {
	return func(s *State) {
		if len(entities) <= MaxEntities {
			s.Entities = maps.Clone(entities)
			return
		}
		keys := make([]string, 0, len(entities))
		for k := range entities {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		bounded := make(map[string]string, MaxEntities)
		for _, k := range keys[:MaxEntities] {
			bounded[k] = entities[k]
		}
		s.Entities = bounded
	}
}

// WithPlan installs a plan for multi-step execution.
func WithPlan(p *Plan) Change {
	return func(s *State) { s.Plan = p.Clone() }
}

// WithCapability records the selected capability and its input.
func WithCapability(id string, input map[string]any) Change {
	return func(s *State) {
		s.Capability = id
		s.CapabilityInput = maps.Clone(input)
	}
}

// WithCapabilityResult appends one capability outcome.
func WithCapabilityResult(r CapabilityResult) Change {
	return func(s *State) { s.CapabilityResults = append(s.CapabilityResults, r) }
}

// WithResponse sets the assistant's reply text.
func WithResponse(text string) Change {
	return func(s *State) { s.Response = text }
}

// WithFinalAction sets the device action decided for this turn.
func WithFinalAction(a *Action) Change {
	return func(s *State) {
		if a == nil {
			s.FinalAction = nil
			return
		}
		action := *a
		s.FinalAction = &action
	}
}

// WithNeedsUserInput flags that the assistant is waiting on the user.
func WithNeedsUserInput(v bool) Change {
	return func(s *State) { s.NeedsUserInput = v }
}

// WithMaxIterations overrides the step budget for this turn.
func WithMaxIterations(n int) Change {
	return func(s *State) { s.MaxIterations = n }
}
