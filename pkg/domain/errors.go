package domain

import "errors"

// ErrSessionNotFound is returned when a conversation ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrInputTooLarge is returned when caller input exceeds its size cap.
var ErrInputTooLarge = errors.New("input exceeds maximum allowed size")

// ErrInvalidUTF8 is returned when caller input is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("input contains invalid UTF-8 sequences")

// ErrInjectionDetected is returned when environment text carries prompt-injection markers.
var ErrInjectionDetected = errors.New("input contains prompt injection markers")

// HaltReason classifies why a graph invocation stopped before reaching
// the terminal marker. Exactly one reason explains every early halt.
type HaltReason string

const (
	// HaltNone: the invocation ended normally.
	HaltNone HaltReason = ""

	// HaltRouting: the current node is unregistered or has no outgoing edge.
	HaltRouting HaltReason = "routing"

	// HaltNodeFault: a node returned an error or panicked.
	HaltNodeFault HaltReason = "node_fault"

	// HaltIterationBound: the step budget was exhausted.
	HaltIterationBound HaltReason = "iteration_bound"
)
