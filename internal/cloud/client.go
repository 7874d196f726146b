package cloud

import (
	"context"

	"ec2herd/internal/instance"
)

// Instance contains information about a created instance.
type Instance struct {
	ID        string
	PublicIP  string
	PrivateIP string
	State     string
}

// SpotState is the observable state of a spot instance request.
type SpotState string

const (
	SpotFulfilled SpotState = "fulfilled"
	SpotPending   SpotState = "pending"
	SpotRejected  SpotState = "rejected"
)

// SpotPoll is the answer to one PollSpotRequest call. Instance is set
// only when State is SpotFulfilled; Reason and Kind describe the
// rejection otherwise.
type SpotPoll struct {
	State    SpotState
	Instance *Instance
	Reason   string
	Kind     ErrorKind
}

// InstanceClient defines the cloud operations the orchestrator needs.
// Implementations must be safe for concurrent use by all workers.
type InstanceClient interface {
	// CreateInstance launches one on-demand instance for the spec and
	// returns once it is running.
	CreateInstance(ctx context.Context, spec instance.Spec) (*Instance, error)

	// RequestSpotInstance places a one-time spot request and returns
	// its request id without waiting for fulfillment.
	RequestSpotInstance(ctx context.Context, spec instance.Spec) (string, error)

	// PollSpotRequest reports the current state of a spot request.
	PollSpotRequest(ctx context.Context, requestID string) (SpotPoll, error)

	// CancelSpotRequest cancels an outstanding spot request. Must be
	// safe to call on an already-resolved or unknown request.
	CancelSpotRequest(ctx context.Context, requestID string) error

	// TerminateInstance terminates an instance. Terminating an
	// already-terminated or unknown instance is not an error.
	TerminateInstance(ctx context.Context, instanceID string) error

	// ValidateCredentials verifies API access. Called once before any
	// batch is dispatched.
	ValidateCredentials(ctx context.Context) error
}
