package orchestrator

import (
	"sync"

	"ec2herd/internal/instance"
)

// aggregator collects one result per spec. Results arrive in completion
// order from all workers; each lands in the slot of its spec's input
// position, so the final listing is already in input order.
type aggregator struct {
	mu      sync.Mutex
	results []instance.Result
}

func newAggregator(n int) *aggregator {
	return &aggregator{results: make([]instance.Result, n)}
}

func (a *aggregator) add(index int, res instance.Result) {
	res.Index = index
	a.mu.Lock()
	a.results[index] = res
	a.mu.Unlock()
}

// finalize returns the collected results in input order.
func (a *aggregator) finalize() []instance.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]instance.Result, len(a.results))
	copy(out, a.results)
	return out
}
