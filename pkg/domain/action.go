package domain

import (
	"fmt"
	"strings"
)

// ActionKind enumerates the device actions the assistant may decide
// on. The uppercase values are the model-facing vocabulary: prompts
// and the output grammar instruct the model to emit them verbatim.
type ActionKind string

const (
	ActionClick  ActionKind = "CLICK"
	ActionType   ActionKind = "TYPE"
	ActionScroll ActionKind = "SCROLL"
	ActionBack   ActionKind = "BACK"
	ActionHome   ActionKind = "HOME"
	ActionWait   ActionKind = "WAIT"
	ActionNone   ActionKind = "NONE"
)

// Scroll directions accepted by ActionScroll.
const (
	DirectionUp    = "UP"
	DirectionDown  = "DOWN"
	DirectionLeft  = "LEFT"
	DirectionRight = "RIGHT"
)

// Action is the assistant's final device decision for a turn. The
// host's gesture layer consumes it; this core only validates and
// carries it.
type Action struct {
	Kind      ActionKind `json:"action"`
	Target    string     `json:"target,omitempty"`
	Text      string     `json:"text,omitempty"`
	Direction string     `json:"direction,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// NoAction is the explicit "do nothing" decision.
func NoAction(reasoning string) *Action {
	return &Action{Kind: ActionNone, Reasoning: reasoning}
}

// ParseAction validates a decoded model object into an Action. Kind
// and direction values are matched case-insensitively; per-kind
// required fields are enforced.
func ParseAction(obj map[string]any) (*Action, error) {
	raw, ok := stringField(obj, "action")
	if !ok {
		return nil, fmt.Errorf("action object missing %q field", "action")
	}
	kind := ActionKind(strings.ToUpper(strings.TrimSpace(raw)))

	action := &Action{Kind: kind}
	action.Target, _ = stringField(obj, "target")
	action.Text, _ = stringField(obj, "text")
	action.Reasoning, _ = stringField(obj, "reasoning")
	if dir, ok := stringField(obj, "direction"); ok {
		action.Direction = strings.ToUpper(strings.TrimSpace(dir))
	}

	switch kind {
	case ActionClick:
		if action.Target == "" {
			return nil, fmt.Errorf("%s action requires a target", kind)
		}
	case ActionType:
		if action.Text == "" {
			return nil, fmt.Errorf("%s action requires text", kind)
		}
	case ActionScroll:
		switch action.Direction {
		case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
		default:
			return nil, fmt.Errorf("%s action has invalid direction %q", kind, action.Direction)
		}
	case ActionBack, ActionHome, ActionWait, ActionNone:
	default:
		return nil, fmt.Errorf("unknown action kind %q", raw)
	}
	return action, nil
}

func stringField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
