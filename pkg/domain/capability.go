package domain

import (
	"encoding/json"
	"fmt"
)

// CapabilityRequest asks the host to perform one operation of a
// device capability (calendar, contacts, messaging, ...). The core
// never inspects capability internals; params are opaque here and
// decoded by the handler.
type CapabilityRequest struct {
	Capability string         `json:"capability"`
	Operation  string         `json:"operation"`
	Params     map[string]any `json:"params,omitempty"`
}

// CapabilityResult is the closed set of capability outcomes:
// CapabilitySuccess, CapabilityFailure, PermissionNeeded or
// ConfirmationNeeded. Call sites switch over the concrete types.
type CapabilityResult interface {
	capabilityResult()
}

// CapabilitySuccess carries the outcome of a completed operation.
type CapabilitySuccess struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// CapabilityFailure reports a failed operation.
type CapabilityFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PermissionNeeded reports that the host must obtain permissions
// before the operation can run.
type PermissionNeeded struct {
	Permissions []string `json:"permissions"`
}

// ConfirmationNeeded reports that the operation is destructive or
// ambiguous and awaits explicit user confirmation.
type ConfirmationNeeded struct {
	Message       string  `json:"message"`
	PendingAction *Action `json:"pending_action,omitempty"`
}

func (CapabilitySuccess) capabilityResult()  {}
func (CapabilityFailure) capabilityResult()  {}
func (PermissionNeeded) capabilityResult()   {}
func (ConfirmationNeeded) capabilityResult() {}

// CapabilityResults serializes the result sum with a kind
// discriminator so the state record round-trips through the session
// file.
type CapabilityResults []CapabilityResult

// Capability result kinds used in the persisted envelope.
const (
	capabilityKindSuccess      = "success"
	capabilityKindFailure      = "failure"
	capabilityKindPermission   = "permission_needed"
	capabilityKindConfirmation = "confirmation_needed"
)

type capabilityResultEnvelope struct {
	Kind          string         `json:"kind"`
	Message       string         `json:"message,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Code          string         `json:"code,omitempty"`
	Permissions   []string       `json:"permissions,omitempty"`
	PendingAction *Action        `json:"pending_action,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (rs CapabilityResults) MarshalJSON() ([]byte, error) {
	envelopes := make([]capabilityResultEnvelope, 0, len(rs))
	for _, r := range rs {
		switch v := r.(type) {
		case CapabilitySuccess:
			envelopes = append(envelopes, capabilityResultEnvelope{
				Kind:    capabilityKindSuccess,
				Message: v.Message,
				Data:    v.Data,
			})
		case CapabilityFailure:
			envelopes = append(envelopes, capabilityResultEnvelope{
				Kind:    capabilityKindFailure,
				Code:    v.Code,
				Message: v.Message,
			})
		case PermissionNeeded:
			envelopes = append(envelopes, capabilityResultEnvelope{
				Kind:        capabilityKindPermission,
				Permissions: v.Permissions,
			})
		case ConfirmationNeeded:
			envelopes = append(envelopes, capabilityResultEnvelope{
				Kind:          capabilityKindConfirmation,
				Message:       v.Message,
				PendingAction: v.PendingAction,
			})
		default:
			return nil, fmt.Errorf("unsupported capability result type %T", r)
		}
	}
	return json.Marshal(envelopes)
}

// UnmarshalJSON implements json.Unmarshaler.
func (rs *CapabilityResults) UnmarshalJSON(data []byte) error {
	var envelopes []capabilityResultEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return err
	}
	out := make(CapabilityResults, 0, len(envelopes))
	for _, e := range envelopes {
		switch e.Kind {
		case capabilityKindSuccess:
			out = append(out, CapabilitySuccess{Message: e.Message, Data: e.Data})
		case capabilityKindFailure:
			out = append(out, CapabilityFailure{Code: e.Code, Message: e.Message})
		case capabilityKindPermission:
			out = append(out, PermissionNeeded{Permissions: e.Permissions})
		case capabilityKindConfirmation:
			out = append(out, ConfirmationNeeded{Message: e.Message, PendingAction: e.PendingAction})
		default:
			return fmt.Errorf("unknown capability result kind %q", e.Kind)
		}
	}
	*rs = out
	return nil
}
