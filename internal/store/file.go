package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// fileState is the on-disk layout: every run this tool made, newest
// last.
type fileState struct {
	UpdatedAt time.Time   `json:"updated_at"`
	Runs      []RunRecord `json:"runs"`
}

// FileRunStore keeps run records in a single JSON file.
type FileRunStore struct {
	mu   sync.RWMutex
	path string
}

func NewFileRunStore(path string) *FileRunStore {
	return &FileRunStore{path: path}
}

// SaveRun appends the record to the file, creating it on first use.
func (s *FileRunStore) SaveRun(_ context.Context, record RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	state.Runs = append(state.Runs, record)
	state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// LatestRun returns the most recently saved record.
func (s *FileRunStore) LatestRun(_ context.Context) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := s.load()
	if err != nil {
		return RunRecord{}, err
	}
	if len(state.Runs) == 0 {
		return RunRecord{}, ErrNoRuns
	}
	return state.Runs[len(state.Runs)-1], nil
}

func (s *FileRunStore) Close() error {
	return nil
}

func (s *FileRunStore) load() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &fileState{}, nil
	}
	if err != nil {
		return nil, err
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	return &state, nil
}
