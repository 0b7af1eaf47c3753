package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter EventType = "node_enter"
	EventNodeLeave EventType = "node_leave"
	EventHalt      EventType = "halt"
)

// NodeEvent represents entry into or exit from a graph node.
type NodeEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Node           string    `json:"node"`
	Iteration      int       `json:"iteration"`
}

// HaltEvent represents an early stop of a graph invocation.
type HaltEvent struct {
	Timestamp      time.Time  `json:"timestamp"`
	ConversationID string     `json:"conversation_id"`
	Node           string     `json:"node"`
	Reason         HaltReason `json:"reason"`
	Error          string     `json:"error,omitempty"`
}

// LifecycleHooks defines callbacks for executor observability. All
// fields are optional; hooks run inline on the invocation goroutine
// and must be fast.
type LifecycleHooks struct {
	OnNodeEnter func(context.Context, *NodeEvent)
	OnNodeLeave func(context.Context, *NodeEvent)
	OnHalt      func(context.Context, *HaltEvent)
}
