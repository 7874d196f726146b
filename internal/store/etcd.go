package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const latestRunKey = "/ec2herd/latest-run"

// EtcdRunStore persists run records in etcd, for setups where several
// hosts share one provisioning history.
type EtcdRunStore struct {
	client *clientv3.Client
}

func NewEtcdRunStore(endpoints []string) (*EtcdRunStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdRunStore{client: cli}, nil
}

// SaveRun writes the record under its run id and moves the latest-run
// pointer to it.
func (s *EtcdRunStore) SaveRun(ctx context.Context, record RunRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	if _, err := s.client.Put(ctx, runKey(record.ID), string(data)); err != nil {
		return fmt.Errorf("failed to save run to etcd: %w", err)
	}
	if _, err := s.client.Put(ctx, latestRunKey, record.ID); err != nil {
		return fmt.Errorf("failed to update latest run pointer: %w", err)
	}
	return nil
}

// LatestRun follows the latest-run pointer.
func (s *EtcdRunStore) LatestRun(ctx context.Context) (RunRecord, error) {
	resp, err := s.client.Get(ctx, latestRunKey)
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to get latest run pointer: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return RunRecord{}, ErrNoRuns
	}

	id := string(resp.Kvs[0].Value)
	resp, err = s.client.Get(ctx, runKey(id))
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to get run %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return RunRecord{}, fmt.Errorf("run not found: %s", id)
	}

	var record RunRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		return RunRecord{}, fmt.Errorf("failed to unmarshal run record: %w", err)
	}
	return record, nil
}

func (s *EtcdRunStore) Close() error {
	return s.client.Close()
}

func runKey(id string) string {
	return fmt.Sprintf("/ec2herd/runs/%s", id)
}
