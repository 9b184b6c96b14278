package workflow

import "time"

// NodeStatus is the lifecycle state of a single node within a run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSuccess   NodeStatus = "success"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusCancelled NodeStatus = "cancelled"
)

// Terminal reports whether the status is final for a node.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeStatusSuccess, NodeStatusFailed, NodeStatusSkipped, NodeStatusCancelled:
		return true
	}
	return false
}

// ExecutionStatus is the lifecycle state of a whole run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuccess   ExecutionStatus = "success"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final for a run.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// NodeExecutionResult is the recorded outcome of one node execution.
// Timestamps are Unix milliseconds.
type NodeExecutionResult struct {
	Success     bool   `json:"success"`
	Output      any    `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	StartedAt   int64  `json:"startedAt"`
	CompletedAt int64  `json:"completedAt"`
}

// NodeState pairs a node's current status with its result, if any.
//
// Result is logically the same value as the context's recorded
// NodeExecutionResult for the node; the context holds a single store and
// exposes both views (see ExecutionContext).
type NodeState struct {
	NodeID string               `json:"nodeId"`
	Status NodeStatus           `json:"status"`
	Result *NodeExecutionResult `json:"result,omitempty"`
}

// WorkflowExecution is a run: the durable header plus per-node states and
// the immutable definition snapshot taken at trigger time.
type WorkflowExecution struct {
	ExecutionID string          `json:"executionId"`
	WorkflowID  string          `json:"workflowId"`
	Status      ExecutionStatus `json:"status"`

	// StartedAt and CompletedAt are Unix milliseconds. CompletedAt is zero
	// until the run reaches a terminal status.
	StartedAt   int64 `json:"startedAt"`
	CompletedAt int64 `json:"completedAt,omitempty"`

	// Error carries the failure message for runs that failed before any
	// node state could record it (e.g. plan validation).
	Error string `json:"error,omitempty"`

	NodeStates map[string]*NodeState `json:"nodeStates"`
	Snapshot   *WorkflowDefinition   `json:"snapshot"`
}

// ExecutionProgress summarizes node completion counts for listings.
type ExecutionProgress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
}

// ExecutionSummary is the listing view of a run.
type ExecutionSummary struct {
	ExecutionID string            `json:"executionId"`
	WorkflowID  string            `json:"workflowId"`
	Status      ExecutionStatus   `json:"status"`
	StartedAt   int64             `json:"startedAt"`
	CompletedAt int64             `json:"completedAt,omitempty"`
	Progress    ExecutionProgress `json:"progress"`
}

// Progress computes the completion counts over the run's node states.
// Skipped nodes count as completed: the run moved past them.
func (e *WorkflowExecution) Progress() ExecutionProgress {
	p := ExecutionProgress{Total: len(e.Snapshot.Nodes)}
	for _, ns := range e.NodeStates {
		switch ns.Status {
		case NodeStatusSuccess, NodeStatusSkipped:
			p.Completed++
		case NodeStatusFailed:
			p.Failed++
		case NodeStatusRunning:
			p.Running++
		}
	}
	return p
}

// Summary converts the run into its listing view.
func (e *WorkflowExecution) Summary() ExecutionSummary {
	return ExecutionSummary{
		ExecutionID: e.ExecutionID,
		WorkflowID:  e.WorkflowID,
		Status:      e.Status,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		Progress:    e.Progress(),
	}
}

// nowMillis is the single clock used for run and result timestamps.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
