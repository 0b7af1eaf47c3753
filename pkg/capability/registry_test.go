package capability_test

import (
	"context"
	"testing"

	"github.com/mazzlabs/sentinel/pkg/capability"
	"github.com/mazzlabs/sentinel/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_UnknownCapability(t *testing.T) {
	reg := capability.NewRegistry()

	result := reg.Invoke(context.Background(), domain.CapabilityRequest{
		Capability: "teleport",
		Operation:  "engage",
	})

	failure, ok := result.(domain.CapabilityFailure)
	require.True(t, ok, "expected CapabilityFailure, got %T", result)
	assert.Equal(t, capability.CodeUnknownCapability, failure.Code)
}

func TestRegistry_UnknownOperation(t *testing.T) {
	reg := capability.NewRegistry()
	reg.Register("clock", "now", func(ctx context.Context, params map[string]any) domain.CapabilityResult {
		return domain.CapabilitySuccess{Message: "noon"}
	})

	result := reg.Invoke(context.Background(), domain.CapabilityRequest{
		Capability: "clock",
		Operation:  "rewind",
	})

	failure, ok := result.(domain.CapabilityFailure)
	require.True(t, ok)
	assert.Equal(t, capability.CodeUnknownOperation, failure.Code)
}

func TestRegistry_DecodesTypedParams(t *testing.T) {
	type alarmParams struct {
		Hour    int    `mapstructure:"hour"`
		Minute  int    `mapstructure:"minute"`
		Label   string `mapstructure:"label"`
		Repeats bool   `mapstructure:"repeats"`
	}

	reg := capability.NewRegistry()
	reg.Register("clock", "set_alarm", func(ctx context.Context, params map[string]any) domain.CapabilityResult {
		var p alarmParams
		if err := capability.Decode(params, &p); err != nil {
			return domain.CapabilityFailure{Code: "bad_params", Message: err.Error()}
		}
		return domain.CapabilitySuccess{
			Message: "alarm set",
			Data:    map[string]any{"hour": p.Hour, "minute": p.Minute, "label": p.Label},
		}
	})

	// Model output is stringly typed; weak decoding must cope.
	result := reg.Invoke(context.Background(), domain.CapabilityRequest{
		Capability: "clock",
		Operation:  "set_alarm",
		Params:     map[string]any{"hour": "7", "minute": float64(30), "label": "gym"},
	})

	success, ok := result.(domain.CapabilitySuccess)
	require.True(t, ok, "expected CapabilitySuccess, got %T", result)
	assert.Equal(t, 7, success.Data["hour"])
	assert.Equal(t, 30, success.Data["minute"])
	assert.Equal(t, "gym", success.Data["label"])
}

func TestRegistry_RecoversPanickingHandler(t *testing.T) {
	reg := capability.NewRegistry()
	reg.Register("flaky", "run", func(ctx context.Context, params map[string]any) domain.CapabilityResult {
		panic("handler exploded")
	})

	result := reg.Invoke(context.Background(), domain.CapabilityRequest{
		Capability: "flaky",
		Operation:  "run",
	})

	failure, ok := result.(domain.CapabilityFailure)
	require.True(t, ok, "a panic must surface as a failure result")
	assert.Equal(t, capability.CodePanic, failure.Code)
	assert.Contains(t, failure.Message, "handler exploded")
}

func TestRegistry_PermissionAndConfirmationResults(t *testing.T) {
	reg := capability.NewRegistry()
	reg.Register("contacts", "read", func(ctx context.Context, params map[string]any) domain.CapabilityResult {
		return domain.PermissionNeeded{Permissions: []string{"android.permission.READ_CONTACTS"}}
	})
	reg.Register("messages", "send", func(ctx context.Context, params map[string]any) domain.CapabilityResult {
		return domain.ConfirmationNeeded{Message: "Send to Dana?"}
	})

	perm := reg.Invoke(context.Background(), domain.CapabilityRequest{Capability: "contacts", Operation: "read"})
	_, ok := perm.(domain.PermissionNeeded)
	assert.True(t, ok, "expected PermissionNeeded, got %T", perm)

	confirm := reg.Invoke(context.Background(), domain.CapabilityRequest{Capability: "messages", Operation: "send"})
	_, ok = confirm.(domain.ConfirmationNeeded)
	assert.True(t, ok, "expected ConfirmationNeeded, got %T", confirm)
}

func TestRegistry_ListsCapabilities(t *testing.T) {
	reg := capability.NewRegistry()
	reg.Register("clock", "now", func(ctx context.Context, params map[string]any) domain.CapabilityResult {
		return domain.CapabilitySuccess{}
	})
	reg.Register("clock", "set_alarm", func(ctx context.Context, params map[string]any) domain.CapabilityResult {
		return domain.CapabilitySuccess{}
	})
	reg.Register("contacts", "read", func(ctx context.Context, params map[string]any) domain.CapabilityResult {
		return domain.CapabilitySuccess{}
	})

	names := reg.Capabilities()
	assert.ElementsMatch(t, []string{"clock", "contacts"}, names)
}
