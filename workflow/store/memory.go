// Package store provides ExecutionStore implementations: an in-memory
// store for tests and development, a single-file SQLite store, and a MySQL
// store for shared deployments.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/synthos-ai/orchestrator/workflow"
)

// MemStore is an in-memory ExecutionStore.
//
// Runs are detached on both save and load through a JSON round-trip, so the
// store behaves like a real durable backend: callers can never reach into
// stored state by aliasing, and round-tripping preserves values exactly as
// serialization would.
//
// Designed for testing and single-process development; data is lost when
// the process exits.
type MemStore struct {
	mu   sync.RWMutex
	runs map[string][]byte
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{runs: make(map[string][]byte)}
}

// SaveExecution stores a serialized copy of the run.
func (m *MemStore) SaveExecution(_ context.Context, run *workflow.WorkflowExecution) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ExecutionID] = data
	return nil
}

// LoadExecution returns a detached copy of the run, or workflow.ErrNotFound.
func (m *MemStore) LoadExecution(_ context.Context, executionID string) (*workflow.WorkflowExecution, error) {
	m.mu.RLock()
	data, ok := m.runs[executionID]
	m.mu.RUnlock()
	if !ok {
		return nil, workflow.ErrNotFound
	}
	var run workflow.WorkflowExecution
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &run, nil
}

// ListExecutions returns the workflow's runs ordered by StartedAt
// descending.
func (m *MemStore) ListExecutions(_ context.Context, workflowID string, limit int) ([]*workflow.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var runs []*workflow.WorkflowExecution
	for _, data := range m.runs {
		var run workflow.WorkflowExecution
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		if run.WorkflowID == workflowID {
			runs = append(runs, &run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt != runs[j].StartedAt {
			return runs[i].StartedAt > runs[j].StartedAt
		}
		return runs[i].ExecutionID > runs[j].ExecutionID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// DeleteExecution removes the run. Deleting an absent run is not an error.
func (m *MemStore) DeleteExecution(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, executionID)
	return nil
}
