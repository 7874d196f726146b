package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"ec2herd/internal/cloud"
	"ec2herd/internal/instance"
	"ec2herd/internal/logging"

	"go.uber.org/zap"
)

// runTask executes one spec inside a worker slot and always produces a
// result. Panics and errors stay inside this task; siblings never see
// them.
func (o *Orchestrator) runTask(ctx context.Context, spec instance.Spec) (res instance.Result) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("provisioning task panicked",
				zap.String("name", spec.Name),
				zap.Any("panic", r))
			res = instance.Result{
				Name:      spec.Name,
				Outcome:   instance.OutcomeFailed,
				Lifecycle: spec.Lifecycle(),
				ErrorKind: string(cloud.KindUnknown),
				Error:     fmt.Sprintf("task panicked: %v", r),
			}
		}
	}()

	// Queued tasks that never started report Cancelled without
	// touching the API.
	if ctx.Err() != nil {
		return instance.Result{
			Name:      spec.Name,
			Outcome:   instance.OutcomeCancelled,
			Lifecycle: spec.Lifecycle(),
			Error:     (&CancelledError{}).Error(),
		}
	}

	if err := spec.Validate(); err != nil {
		o.log.Warn("rejecting invalid spec", zap.String("name", spec.Name), zap.Error(err))
		return instance.Result{
			Name:      spec.Name,
			Outcome:   instance.OutcomeValidationError,
			Lifecycle: spec.Lifecycle(),
			Error:     err.Error(),
		}
	}

	if spec.IsSpot {
		return o.newSpotManager(spec).acquire(ctx)
	}
	return o.createOnDemand(ctx, spec)
}

// createOnDemand issues a single create call. On-demand specs get one
// attempt; any failure is final.
func (o *Orchestrator) createOnDemand(ctx context.Context, spec instance.Spec) instance.Result {
	o.log.Info("creating on-demand instance",
		zap.String("name", spec.Name),
		zap.String("instance_type", spec.InstanceType))
	if spec.UserData != "" {
		o.log.Debug("instance user data",
			zap.String("name", spec.Name),
			zap.String("user_data", logging.Truncate(spec.UserData)))
	}

	inst, err := o.client.CreateInstance(ctx, spec)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return instance.Result{
				Name:      spec.Name,
				Outcome:   instance.OutcomeCancelled,
				Lifecycle: spec.Lifecycle(),
				Error:     (&CancelledError{Phase: "instance creation"}).Error(),
				Attempts:  1,
			}
		}
		o.log.Error("failed to create instance",
			zap.String("name", spec.Name),
			zap.Error(err))
		return instance.Result{
			Name:      spec.Name,
			Outcome:   instance.OutcomeFailed,
			Lifecycle: spec.Lifecycle(),
			ErrorKind: string(cloud.KindOf(err)),
			Error:     err.Error(),
			Attempts:  1,
		}
	}

	o.log.Info("instance created",
		zap.String("name", spec.Name),
		zap.String("instance_id", inst.ID),
		zap.String("public_ip", inst.PublicIP))
	return instance.Result{
		Name:       spec.Name,
		Outcome:    instance.OutcomeSuccess,
		InstanceID: inst.ID,
		PublicIP:   inst.PublicIP,
		PrivateIP:  inst.PrivateIP,
		Lifecycle:  spec.Lifecycle(),
		Attempts:   1,
	}
}
