package orchestrator

import (
	"context"
	"fmt"
	"time"

	"ec2herd/internal/cloud"
	"ec2herd/internal/instance"
	"ec2herd/internal/logging"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// Orchestrator fans a batch of instance specs out over a bounded pool
// of workers and collects one result per spec. One client and one
// logger serve the whole batch; tasks share nothing else.
type Orchestrator struct {
	client cloud.InstanceClient
	log    *zap.Logger

	// spot timing, overridable in tests
	pollInterval   time.Duration
	fulfillTimeout time.Duration
	backoffUnit    time.Duration
}

// New creates an orchestrator around a cloud client. A nil logger
// disables logging.
func New(client cloud.InstanceClient, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		client:         client,
		log:            log,
		pollInterval:   10 * time.Second,
		fulfillTimeout: 10 * time.Minute,
		backoffUnit:    time.Second,
	}
}

// Run provisions every spec on at most maxWorkers concurrent workers
// and returns exactly one result per spec, in input order. A failing
// task never aborts the batch; cancellation of ctx stops unstarted
// tasks and interrupts spot waits, and Run still returns a result for
// every spec.
func (o *Orchestrator) Run(ctx context.Context, specs []instance.Spec, maxWorkers int) ([]instance.Result, error) {
	if maxWorkers < 1 {
		return nil, fmt.Errorf("max workers must be at least 1, got %d", maxWorkers)
	}
	if len(specs) == 0 {
		return nil, nil
	}

	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.Name
	}
	o.log.Info("starting provisioning batch",
		zap.Int("specs", len(specs)),
		zap.Int("max_workers", maxWorkers),
		zap.Strings("names", logging.TruncateSlice(names, 10)))
	started := time.Now()

	agg := newAggregator(len(specs))
	pool := pond.NewPool(min(maxWorkers, len(specs)))

	for i, spec := range specs {
		pool.Submit(func() {
			agg.add(i, o.runTask(ctx, spec))
		})
	}
	pool.StopAndWait()

	results := agg.finalize()
	succeeded := 0
	for _, res := range results {
		if res.Succeeded() {
			succeeded++
		}
	}
	o.log.Info("provisioning batch finished",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(results)-succeeded),
		zap.Duration("elapsed", time.Since(started)))

	return results, nil
}

func (o *Orchestrator) newSpotManager(spec instance.Spec) *spotManager {
	return &spotManager{
		client:         o.client,
		log:            o.log.With(zap.String("name", spec.Name)),
		spec:           spec,
		pollInterval:   o.pollInterval,
		fulfillTimeout: o.fulfillTimeout,
		unit:           o.backoffUnit,
	}
}
