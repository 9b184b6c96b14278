package workflow

import "context"

// ExecutionStore is the durable store for run headers and per-node states.
//
// Implementations live in workflow/store (memory, SQLite, MySQL). The
// interface is defined on the consumer side so the engine depends only on
// the operations it uses.
//
// Guarantees required of implementations:
//   - SaveExecution upserts the header and every node state atomically
//     enough that a concurrent LoadExecution never observes a partially
//     updated run (per-call transaction).
//   - Snapshot and result payloads round-trip byte-for-byte.
//   - DeleteExecution cascades to node states.
type ExecutionStore interface {
	// SaveExecution upserts the run header (keyed by ExecutionID) and then
	// upserts each node state (keyed by ExecutionID+NodeID).
	SaveExecution(ctx context.Context, run *WorkflowExecution) error

	// LoadExecution returns the run with all node states populated, or
	// ErrNotFound.
	LoadExecution(ctx context.Context, executionID string) (*WorkflowExecution, error)

	// ListExecutions returns runs for the workflow ordered by StartedAt
	// descending, fully populated, at most limit entries (limit <= 0 means
	// no cap).
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]*WorkflowExecution, error)

	// DeleteExecution removes the run and its node states.
	DeleteExecution(ctx context.Context, executionID string) error
}
