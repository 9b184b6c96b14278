package workflow

import (
	"encoding/json"
	"fmt"
	"sync"
)

// ExecutionContext is the in-memory state of one run: per-node states and
// results plus run-global variables.
//
// The context is single-writer (the executor that owns the run) with
// multi-reader semantics. All mutations go through the setters below, which
// guard the maps with a mutex so readers on other goroutines (condition
// evaluation, adapters inspecting upstream outputs, event metadata) stay
// safe while a layer executes concurrently.
//
// There is one underlying store: NodeState.Result for a node is always the
// same value as the recorded NodeExecutionResult for that node. The two
// views can never disagree.
type ExecutionContext struct {
	mu          sync.RWMutex
	executionID string
	states      map[string]*NodeState
	globals     map[string]any
}

// NewExecutionContext creates an empty context for the given run.
func NewExecutionContext(executionID string) *ExecutionContext {
	return &ExecutionContext{
		executionID: executionID,
		states:      make(map[string]*NodeState),
		globals:     make(map[string]any),
	}
}

// ExecutionID returns the owning run's ID.
func (c *ExecutionContext) ExecutionID() string {
	return c.executionID
}

// UpdateNodeStatus sets the node's status, creating its state on first use.
func (c *ExecutionContext) UpdateNodeStatus(nodeID string, status NodeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateLocked(nodeID).Status = status
}

// SetNodeResult records the node's execution result. The result becomes
// visible through both NodeResult and the node's NodeState.
func (c *ExecutionContext) SetNodeResult(nodeID string, result *NodeExecutionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateLocked(nodeID).Result = result
}

// stateLocked returns the node's state, creating it when absent.
// Callers must hold c.mu.
func (c *ExecutionContext) stateLocked(nodeID string) *NodeState {
	ns, ok := c.states[nodeID]
	if !ok {
		ns = &NodeState{NodeID: nodeID, Status: NodeStatusPending}
		c.states[nodeID] = ns
	}
	return ns
}

// NodeStatus returns the node's current status, or pending when the node
// has never been touched.
func (c *ExecutionContext) NodeStatus(nodeID string) NodeStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ns, ok := c.states[nodeID]; ok {
		return ns.Status
	}
	return NodeStatusPending
}

// NodeResult returns the node's recorded result, or nil.
func (c *ExecutionContext) NodeResult(nodeID string) *NodeExecutionResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ns, ok := c.states[nodeID]; ok {
		return ns.Result
	}
	return nil
}

// IsNodeSuccess reports whether the node reached success.
func (c *ExecutionContext) IsNodeSuccess(nodeID string) bool {
	return c.NodeStatus(nodeID) == NodeStatusSuccess
}

// IsNodeFailed reports whether the node reached failed.
func (c *ExecutionContext) IsNodeFailed(nodeID string) bool {
	return c.NodeStatus(nodeID) == NodeStatusFailed
}

// IsNodeCompleted reports whether the node reached any terminal status.
func (c *ExecutionContext) IsNodeCompleted(nodeID string) bool {
	return c.NodeStatus(nodeID).Terminal()
}

// UpstreamOutput returns the recorded output of an upstream node, or nil
// when the node has no result yet.
func (c *ExecutionContext) UpstreamOutput(nodeID string) any {
	if r := c.NodeResult(nodeID); r != nil {
		return r.Output
	}
	return nil
}

// SetGlobal stores a run-global variable.
func (c *ExecutionContext) SetGlobal(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globals[key] = value
}

// Global returns a run-global variable.
func (c *ExecutionContext) Global(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.globals[key]
	return v, ok
}

// Globals returns a shallow copy of all run-global variables.
func (c *ExecutionContext) Globals() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.globals))
	for k, v := range c.globals {
		out[k] = v
	}
	return out
}

// AllNodeStates returns a defensive copy of every node state. The returned
// states and results are deep copies; mutating them does not affect the
// context.
func (c *ExecutionContext) AllNodeStates() map[string]*NodeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*NodeState, len(c.states))
	for id, ns := range c.states {
		out[id] = cloneNodeState(ns)
	}
	return out
}

// NodeStateCopy returns a deep copy of one node's state, or nil.
func (c *ExecutionContext) NodeStateCopy(nodeID string) *NodeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ns, ok := c.states[nodeID]; ok {
		return cloneNodeState(ns)
	}
	return nil
}

func cloneNodeState(ns *NodeState) *NodeState {
	copied := &NodeState{NodeID: ns.NodeID, Status: ns.Status}
	if ns.Result != nil {
		r := *ns.Result
		copied.Result = &r
	}
	return copied
}

// ContextSnapshot is the structurally-cloneable view of a context used by
// persistence to round-trip run state.
type ContextSnapshot struct {
	ExecutionID string                          `json:"executionId"`
	NodeStates  map[string]*NodeState           `json:"nodeStates"`
	NodeResults map[string]*NodeExecutionResult `json:"nodeResults"`
	GlobalVars  map[string]any                  `json:"globalVars"`
}

// Serialize produces a snapshot of all node states, results, and globals.
// The snapshot shares no mutable state with the context.
func (c *ExecutionContext) Serialize() (*ContextSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &ContextSnapshot{
		ExecutionID: c.executionID,
		NodeStates:  make(map[string]*NodeState, len(c.states)),
		NodeResults: make(map[string]*NodeExecutionResult, len(c.states)),
		GlobalVars:  make(map[string]any, len(c.globals)),
	}
	for id, ns := range c.states {
		cp := cloneNodeState(ns)
		snap.NodeStates[id] = cp
		if cp.Result != nil {
			snap.NodeResults[id] = cp.Result
		}
	}
	// Globals may hold nested maps; a JSON round-trip detaches them.
	data, err := json.Marshal(c.globals)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal global vars: %w", err)
	}
	if err := json.Unmarshal(data, &snap.GlobalVars); err != nil {
		return nil, fmt.Errorf("failed to unmarshal global vars: %w", err)
	}
	return snap, nil
}

// Restore rehydrates the context from a snapshot, replacing any existing
// state. NodeStates win over NodeResults when both are present; the single
// underlying store keeps the two views consistent afterwards.
func (c *ExecutionContext) Restore(snap *ContextSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states = make(map[string]*NodeState, len(snap.NodeStates))
	for id, ns := range snap.NodeStates {
		cp := cloneNodeState(ns)
		if cp.Result == nil {
			if r, ok := snap.NodeResults[id]; ok && r != nil {
				rc := *r
				cp.Result = &rc
			}
		}
		c.states[id] = cp
	}
	c.globals = make(map[string]any, len(snap.GlobalVars))
	for k, v := range snap.GlobalVars {
		c.globals[k] = v
	}
}
