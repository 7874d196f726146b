package orchestrator

import (
	"fmt"

	"ec2herd/internal/cloud"
)

// ExhaustedError reports a spot acquisition that spent its whole retry
// budget. Its text becomes the error of the spec's result.
type ExhaustedError struct {
	Attempts   int
	LastKind   cloud.ErrorKind
	LastReason string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("spot retries exhausted after %d attempts: %s", e.Attempts, e.LastReason)
}

// CancelledError reports work cut short by batch cancellation.
type CancelledError struct {
	// Phase names what was interrupted. Empty means the task never
	// started.
	Phase string
}

func (e *CancelledError) Error() string {
	if e.Phase == "" {
		return "batch cancelled before start"
	}
	return fmt.Sprintf("batch cancelled during %s", e.Phase)
}
