package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ec2herd/internal/instance"
)

// ErrNoRuns is returned when the store has no recorded runs yet.
var ErrNoRuns = errors.New("no provisioning runs recorded")

// RunRecord is the persisted output of one provisioning run.
type RunRecord struct {
	ID         string            `json:"id"`
	Region     string            `json:"region"`
	Workers    int               `json:"workers"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Results    []instance.Result `json:"results"`
}

// RunStore persists run records so later invocations can inspect or
// clean up what a run created.
type RunStore interface {
	SaveRun(ctx context.Context, record RunRecord) error
	LatestRun(ctx context.Context) (RunRecord, error)
	Close() error
}

// New opens the configured backend. An empty backend selects the file
// store.
func New(backend, path string, endpoints []string) (RunStore, error) {
	switch backend {
	case "", "file":
		return NewFileRunStore(path), nil
	case "etcd":
		return NewEtcdRunStore(endpoints)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
