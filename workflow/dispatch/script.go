package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/rs/zerolog"

	"github.com/synthos-ai/orchestrator/workflow"
)

// ScriptRunner implements workflow.ScriptExecutor by evaluating the node's
// code as an expr expression.
//
// Expressions are NOT sandboxed against resource exhaustion, so the runner
// refuses to evaluate anything unless AllowUnsandboxed was set explicitly
// at construction. Operators who enable it take responsibility for the
// workflows they deploy.
//
// The expression environment exposes:
//   - nodes: map of node ID to that node's recorded output
//   - globals: the run's global variables
type ScriptRunner struct {
	allowUnsandboxed bool
	log              zerolog.Logger
}

// NewScriptRunner creates a runner. Evaluation only happens when
// allowUnsandboxed is true.
func NewScriptRunner(allowUnsandboxed bool, log zerolog.Logger) *ScriptRunner {
	return &ScriptRunner{allowUnsandboxed: allowUnsandboxed, log: log}
}

// ExecuteScriptNode compiles and runs the node's code.
func (s *ScriptRunner) ExecuteScriptNode(_ context.Context, nodeID, code string, ec *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	if !s.allowUnsandboxed {
		return nil, &workflow.NodeError{
			NodeID:  nodeID,
			Code:    workflow.CodeUnsupportedNodeKind,
			Message: "script execution is disabled; enable the unsandboxed script runner explicitly",
		}
	}

	startedAt := time.Now().UnixMilli()

	outputs := make(map[string]any)
	for id, state := range ec.AllNodeStates() {
		if state.Result != nil {
			outputs[id] = state.Result.Output
		}
	}
	env := map[string]any{
		"nodes":   outputs,
		"globals": ec.Globals(),
	}

	program, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		return &workflow.NodeExecutionResult{
			Success:     false,
			Error:       fmt.Sprintf("script failed to compile: %v", err),
			StartedAt:   startedAt,
			CompletedAt: time.Now().UnixMilli(),
		}, nil
	}

	value, err := expr.Run(program, env)
	if err != nil {
		return &workflow.NodeExecutionResult{
			Success:     false,
			Error:       fmt.Sprintf("script failed: %v", err),
			StartedAt:   startedAt,
			CompletedAt: time.Now().UnixMilli(),
		}, nil
	}

	s.log.Debug().Str("node_id", nodeID).Msg("script node completed")
	return &workflow.NodeExecutionResult{
		Success:     true,
		Output:      map[string]any{"value": value},
		StartedAt:   startedAt,
		CompletedAt: time.Now().UnixMilli(),
	}, nil
}
