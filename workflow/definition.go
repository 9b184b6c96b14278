// Package workflow provides the core durable DAG workflow engine: the
// declarative data model, the graph parser, the per-run execution context,
// the condition evaluator, the node strategy, and the layer-driven executor.
package workflow

import (
	"encoding/json"
	"fmt"
)

// NodeType classifies a workflow node and determines how the executor
// dispatches it.
type NodeType string

const (
	// NodeTypeStart is the single entry node of a workflow.
	NodeTypeStart NodeType = "start"

	// NodeTypeEnd is the single exit node of a workflow.
	NodeTypeEnd NodeType = "end"

	// NodeTypeTask runs through the executor adapter (usually dispatched
	// onto the task-execution bus).
	NodeTypeTask NodeType = "task"

	// NodeTypeCondition evaluates a ConditionExpression against the run
	// context and records the branch truth as its output.
	NodeTypeCondition NodeType = "condition"

	// NodeTypeParallel is a structural fan-out marker with no side effect.
	NodeTypeParallel NodeType = "parallel"

	// NodeTypeScript runs user-supplied code through the adapter's optional
	// script extension. Script execution semantics belong to the adapter.
	NodeTypeScript NodeType = "script"

	// NodeTypeHTTP performs an HTTP call through the adapter's optional
	// http extension.
	NodeTypeHTTP NodeType = "http"
)

// WorkflowDefinition is the declarative description of a workflow graph.
//
// Definitions are owned by configuration and must outlive every run that
// references them. A run never aliases its definition: it keeps a deep
// Clone() taken at trigger time (the snapshot), so later mutations of the
// source definition cannot affect a run in flight.
type WorkflowDefinition struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []WorkflowNode `json:"nodes" yaml:"nodes"`
	Edges       []WorkflowEdge `json:"edges" yaml:"edges"`

	// Viewport is UI-only metadata; the engine carries it untouched.
	Viewport *Viewport `json:"viewport,omitempty" yaml:"viewport,omitempty"`
}

// Viewport is the optional editor camera position stored with a definition.
type Viewport struct {
	X    float64 `json:"x" yaml:"x"`
	Y    float64 `json:"y" yaml:"y"`
	Zoom float64 `json:"zoom" yaml:"zoom"`
}

// WorkflowNode is a single node of a workflow definition.
//
// The recognized Data fields depend on Type; unknown combinations are
// ignored rather than rejected so definitions can round-trip UI metadata.
type WorkflowNode struct {
	ID   string   `json:"id" yaml:"id"`
	Type NodeType `json:"type" yaml:"type"`
	Data NodeData `json:"data" yaml:"data"`
}

// NodeData is the per-node configuration bag.
type NodeData struct {
	// Label is the human-readable display name.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// TaskType names the registered task kind for task nodes.
	TaskType string `json:"taskType,omitempty" yaml:"taskType,omitempty"`

	// Params are caller-supplied task parameters. They win key-by-key over
	// the registry's generated defaults.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// RetryCount is the number of retries after the first attempt (>= 0).
	RetryCount int `json:"retryCount,omitempty" yaml:"retryCount,omitempty"`

	// TimeoutMs bounds a single attempt in milliseconds. 0 = no timeout.
	TimeoutMs int64 `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`

	// SkipOnFailure records the node as failed without failing the run
	// when all attempts are exhausted. Downstream nodes still execute.
	SkipOnFailure bool `json:"skipOnFailure,omitempty" yaml:"skipOnFailure,omitempty"`

	// Condition is the branch expression for condition nodes.
	Condition *ConditionExpression `json:"conditionExpression,omitempty" yaml:"conditionExpression,omitempty"`

	// ScriptCode is the source evaluated by the adapter for script nodes.
	ScriptCode string `json:"scriptCode,omitempty" yaml:"scriptCode,omitempty"`

	// HTTP configures http nodes.
	HTTP *HTTPConfig `json:"httpConfig,omitempty" yaml:"httpConfig,omitempty"`
}

// WorkflowEdge connects two nodes of the same definition.
type WorkflowEdge struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`

	// SourceHandle distinguishes condition branches (e.g. "true"/"false").
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	Label        string `json:"label,omitempty" yaml:"label,omitempty"`
}

// ConditionKind selects the variant of a ConditionExpression.
type ConditionKind string

const (
	// ConditionPreviousNodeSuccess is true when the single predecessor
	// reached success.
	ConditionPreviousNodeSuccess ConditionKind = "previousNodeSuccess"

	// ConditionPreviousNodeFailed is true when the single predecessor
	// reached failed.
	ConditionPreviousNodeFailed ConditionKind = "previousNodeFailed"

	// ConditionKeyValueMatch navigates a dotted key path rooted at a node's
	// recorded result and compares the final value by strict equality.
	ConditionKeyValueMatch ConditionKind = "keyValueMatch"

	// ConditionCustomExpression is reserved. The evaluator always returns
	// false for it and logs a warning.
	ConditionCustomExpression ConditionKind = "customExpression"
)

// ConditionExpression is the variant payload of a condition node.
type ConditionExpression struct {
	Kind ConditionKind `json:"type" yaml:"type"`

	// KeyPath and ExpectedValue apply to keyValueMatch. The first path
	// segment names a node; the rest navigate into its result.
	KeyPath       string `json:"keyPath,omitempty" yaml:"keyPath,omitempty"`
	ExpectedValue any    `json:"expectedValue,omitempty" yaml:"expectedValue,omitempty"`

	// Code applies to the reserved customExpression variant.
	Code string `json:"code,omitempty" yaml:"code,omitempty"`
}

// HTTPConfig configures an http node.
type HTTPConfig struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method" yaml:"method"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`
}

// httpMethods is the set of methods accepted by definition validation.
var httpMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
}

// Clone returns a deep, by-value copy of the definition using a JSON
// round-trip. This is the snapshot mechanism: the copy shares no mutable
// state with the receiver.
//
// The JSON round-trip works for the whole data model because every field is
// JSON-serializable by construction; Params values survive as generic maps,
// which is exactly the shape the engine operates on.
func (d *WorkflowDefinition) Clone() (*WorkflowDefinition, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal definition: %w", err)
	}
	var copied WorkflowDefinition
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return &copied, nil
}

// Node returns the node with the given ID, or nil.
func (d *WorkflowDefinition) Node(id string) *WorkflowNode {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}
