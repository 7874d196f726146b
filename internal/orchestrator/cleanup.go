package orchestrator

import (
	"context"

	"ec2herd/internal/cloud"
	"ec2herd/internal/instance"

	"go.uber.org/zap"
)

// TerminationOutcome records one terminate call from a cleanup sweep.
type TerminationOutcome struct {
	InstanceID string `json:"instance_id"`
	Name       string `json:"name"`
	Terminated bool   `json:"terminated"`
	Error      string `json:"error,omitempty"`
}

// CleanupManager tears down the instances a run successfully created.
type CleanupManager struct {
	client cloud.InstanceClient
	log    *zap.Logger
}

func NewCleanupManager(client cloud.InstanceClient, log *zap.Logger) *CleanupManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &CleanupManager{client: client, log: log}
}

// TerminateAll terminates every instance recorded as a success. Each
// termination is independent; one failure never stops the sweep, and
// terminating an already-gone instance counts as success.
func (c *CleanupManager) TerminateAll(ctx context.Context, results []instance.Result) []TerminationOutcome {
	var outcomes []TerminationOutcome
	for _, res := range results {
		if !res.Succeeded() || res.InstanceID == "" {
			continue
		}

		outcome := TerminationOutcome{
			InstanceID: res.InstanceID,
			Name:       res.Name,
			Terminated: true,
		}
		if err := c.client.TerminateInstance(ctx, res.InstanceID); err != nil {
			outcome.Terminated = false
			outcome.Error = err.Error()
			c.log.Warn("failed to terminate instance",
				zap.String("instance_id", res.InstanceID),
				zap.String("name", res.Name),
				zap.Error(err))
		} else {
			c.log.Info("terminated instance",
				zap.String("instance_id", res.InstanceID),
				zap.String("name", res.Name))
		}
		outcomes = append(outcomes, outcome)
	}

	c.log.Info("cleanup sweep finished", zap.Int("instances", len(outcomes)))
	return outcomes
}
