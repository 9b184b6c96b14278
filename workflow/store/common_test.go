package store

import (
	"reflect"
	"testing"

	"github.com/synthos-ai/orchestrator/workflow"
)

// sampleRun builds a terminal run with a definition snapshot and two node
// states, one carrying a result.
func sampleRun(executionID, workflowID string, startedAt int64) *workflow.WorkflowExecution {
	return &workflow.WorkflowExecution{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Status:      workflow.ExecutionStatusSuccess,
		StartedAt:   startedAt,
		CompletedAt: startedAt + 100,
		NodeStates: map[string]*workflow.NodeState{
			"start": {NodeID: "start", Status: workflow.NodeStatusSuccess},
			"work": {
				NodeID: "work",
				Status: workflow.NodeStatusSuccess,
				Result: &workflow.NodeExecutionResult{
					Success:     true,
					Output:      map[string]any{"rows": float64(42)},
					StartedAt:   startedAt + 10,
					CompletedAt: startedAt + 90,
				},
			},
		},
		Snapshot: &workflow.WorkflowDefinition{
			ID:   workflowID,
			Name: "sample",
			Nodes: []workflow.WorkflowNode{
				{ID: "start", Type: workflow.NodeTypeStart},
				{ID: "work", Type: workflow.NodeTypeTask, Data: workflow.NodeData{TaskType: "noop"}},
				{ID: "end", Type: workflow.NodeTypeEnd},
			},
			Edges: []workflow.WorkflowEdge{
				{ID: "e1", Source: "start", Target: "work"},
				{ID: "e2", Source: "work", Target: "end"},
			},
		},
	}
}

// assertRunEqual compares the fields persistence must round-trip.
func assertRunEqual(t *testing.T, want, got *workflow.WorkflowExecution) {
	t.Helper()
	if got.ExecutionID != want.ExecutionID ||
		got.WorkflowID != want.WorkflowID ||
		got.Status != want.Status ||
		got.StartedAt != want.StartedAt ||
		got.CompletedAt != want.CompletedAt ||
		got.Error != want.Error {
		t.Errorf("header mismatch:\nwant %+v\ngot  %+v", want, got)
	}
	if !reflect.DeepEqual(want.Snapshot, got.Snapshot) {
		t.Errorf("snapshot mismatch:\nwant %+v\ngot  %+v", want.Snapshot, got.Snapshot)
	}
	if len(got.NodeStates) != len(want.NodeStates) {
		t.Fatalf("expected %d node states, got %d", len(want.NodeStates), len(got.NodeStates))
	}
	for id, ws := range want.NodeStates {
		gs := got.NodeStates[id]
		if gs == nil {
			t.Errorf("node state %q missing", id)
			continue
		}
		if gs.Status != ws.Status {
			t.Errorf("node %q status: want %s, got %s", id, ws.Status, gs.Status)
		}
		if !reflect.DeepEqual(ws.Result, gs.Result) {
			t.Errorf("node %q result mismatch:\nwant %+v\ngot  %+v", id, ws.Result, gs.Result)
		}
	}
}
