package workflow

import "context"

// ExecutorAdapter is the boundary to the out-of-process task runtime,
// invoked for task nodes.
//
// Implementations must be re-entrant: several task nodes of one run may
// execute concurrently within a layer. They must not mutate the context
// except through its documented setters; in practice they only read
// upstream outputs and globals. Adapters may take arbitrarily long; the
// node strategy, not the adapter, enforces timeouts.
type ExecutorAdapter interface {
	// ExecuteTaskNode runs one task node and reports its outcome. A failed
	// task is normally reported through a result with Success=false;
	// errors are reserved for adapter-level faults (unknown task type,
	// broken transport).
	ExecuteTaskNode(ctx context.Context, nodeID, taskType string, params map[string]any, ec *ExecutionContext) (*NodeExecutionResult, error)
}

// ScriptExecutor is the optional adapter extension for script nodes.
// Adapters without it cause script nodes to fail fast with
// UNSUPPORTED_NODE_KIND.
type ScriptExecutor interface {
	ExecuteScriptNode(ctx context.Context, nodeID, code string, ec *ExecutionContext) (*NodeExecutionResult, error)
}

// HTTPExecutor is the optional adapter extension for http nodes.
type HTTPExecutor interface {
	ExecuteHTTPNode(ctx context.Context, nodeID string, cfg *HTTPConfig, ec *ExecutionContext) (*NodeExecutionResult, error)
}

// unsupportedNodeKindError builds the failure for a node kind the adapter
// does not implement.
func unsupportedNodeKindError(nodeID string, typ NodeType) *NodeError {
	return &NodeError{
		NodeID:  nodeID,
		Code:    CodeUnsupportedNodeKind,
		Message: "adapter does not support " + string(typ) + " nodes",
	}
}
