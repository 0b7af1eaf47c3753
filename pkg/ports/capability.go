package ports

import (
	"context"

	"github.com/mazzlabs/sentinel/pkg/domain"
)

// Capabilities defines the interface for executing device capabilities
// on behalf of a turn. Failures are values, not errors: a capability
// that cannot run reports a CapabilityFailure (or a PermissionNeeded /
// ConfirmationNeeded prompt) so the conversation can carry on.
type Capabilities interface {
	// Invoke executes the requested capability operation and returns
	// its outcome. Implementations must not panic across this boundary.
	Invoke(ctx context.Context, req domain.CapabilityRequest) domain.CapabilityResult
}
