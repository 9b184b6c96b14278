// Package emit defines the typed execution events produced by the workflow
// executor and the pluggable emitters that receive them.
package emit

import "time"

// EventType discriminates ExecutionUpdateEvent variants. The values are the
// wire names seen by RPC stream subscribers.
type EventType string

const (
	EventExecutionStarted   EventType = "executionStarted"
	EventNodeStarted        EventType = "nodeStarted"
	EventNodeCompleted      EventType = "nodeCompleted"
	EventNodeFailed         EventType = "nodeFailed"
	EventExecutionCompleted EventType = "executionCompleted"
	EventExecutionFailed    EventType = "executionFailed"
)

// Terminal reports whether the event ends its execution's stream.
func (t EventType) Terminal() bool {
	return t == EventExecutionCompleted || t == EventExecutionFailed
}

// Event is one execution update.
//
// Ordering guarantees (enforced by the executor, relied on by consumers):
// per execution the sequence is totally ordered; for a node, nodeStarted
// strictly precedes exactly one of nodeCompleted/nodeFailed; the terminal
// execution event is the last event for its ExecutionID.
type Event struct {
	// Type discriminates the variant.
	Type EventType `json:"type"`

	// ExecutionID identifies the run that emitted this event.
	ExecutionID string `json:"executionId"`

	// NodeID is set for node-level events, empty for execution-level ones.
	NodeID string `json:"nodeId,omitempty"`

	// State carries the node's state snapshot for node-level events. It is
	// declared as any to keep this package free of engine imports; the
	// executor stores a *workflow.NodeState here.
	State any `json:"nodeState,omitempty"`

	// Timestamp is Unix milliseconds at emission.
	Timestamp int64 `json:"timestamp"`

	// Meta holds additional structured data, e.g. "error" on failure
	// events or "status" on execution-level events.
	Meta map[string]any `json:"meta,omitempty"`
}

// Now returns the event timestamp for the current instant.
func Now() int64 {
	return time.Now().UnixMilli()
}
