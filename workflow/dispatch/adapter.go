package dispatch

import (
	"context"

	"github.com/synthos-ai/orchestrator/workflow"
)

// Adapter combines the bridge with the optional http and script runners
// into one workflow.ExecutorAdapter the executor can type-assert against.
// Nil runners leave the corresponding node kinds unsupported.
type Adapter struct {
	bridge *Bridge
	http   *HTTPRunner
	script *ScriptRunner
}

// NewAdapter assembles the composite. bridge must not be nil; http and
// script may be.
func NewAdapter(bridge *Bridge, http *HTTPRunner, script *ScriptRunner) *Adapter {
	return &Adapter{bridge: bridge, http: http, script: script}
}

// ExecuteTaskNode delegates to the dispatcher bridge.
func (a *Adapter) ExecuteTaskNode(ctx context.Context, nodeID, taskType string, params map[string]any, ec *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	return a.bridge.ExecuteTaskNode(ctx, nodeID, taskType, params, ec)
}

// ExecuteHTTPNode delegates to the http runner.
func (a *Adapter) ExecuteHTTPNode(ctx context.Context, nodeID string, cfg *workflow.HTTPConfig, ec *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	if a.http == nil {
		return nil, &workflow.NodeError{
			NodeID:  nodeID,
			Code:    workflow.CodeUnsupportedNodeKind,
			Message: "adapter has no http runner configured",
		}
	}
	return a.http.ExecuteHTTPNode(ctx, nodeID, cfg, ec)
}

// ExecuteScriptNode delegates to the script runner.
func (a *Adapter) ExecuteScriptNode(ctx context.Context, nodeID, code string, ec *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	if a.script == nil {
		return nil, &workflow.NodeError{
			NodeID:  nodeID,
			Code:    workflow.CodeUnsupportedNodeKind,
			Message: "adapter has no script runner configured",
		}
	}
	return a.script.ExecuteScriptNode(ctx, nodeID, code, ec)
}
