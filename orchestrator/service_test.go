package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthos-ai/orchestrator/workflow"
	"github.com/synthos-ai/orchestrator/workflow/emit"
	"github.com/synthos-ai/orchestrator/workflow/store"
)

// recordingAdapter succeeds by default; failNodes marks task nodes that
// should fail until cleared.
type recordingAdapter struct {
	mu        sync.Mutex
	calls     []string
	failNodes map[string]bool
}

func (a *recordingAdapter) ExecuteTaskNode(_ context.Context, nodeID, _ string, _ map[string]any, _ *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, nodeID)
	fail := a.failNodes[nodeID]
	a.mu.Unlock()
	if fail {
		return nil, errors.New("simulated task failure")
	}
	now := time.Now().UnixMilli()
	return &workflow.NodeExecutionResult{Success: true, StartedAt: now, CompletedAt: now}, nil
}

func (a *recordingAdapter) setFailing(nodeID string, failing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failNodes == nil {
		a.failNodes = make(map[string]bool)
	}
	a.failNodes[nodeID] = failing
}

func (a *recordingAdapter) callsFor(nodeID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c == nodeID {
			n++
		}
	}
	return n
}

func testDefs() []workflow.WorkflowDefinition {
	return []workflow.WorkflowDefinition{
		{
			ID:          "wf-etl",
			Name:        "ETL",
			Description: "extract and load",
			Nodes: []workflow.WorkflowNode{
				{ID: "start", Type: workflow.NodeTypeStart},
				{ID: "extract", Type: workflow.NodeTypeTask, Data: workflow.NodeData{TaskType: "noop"}},
				{ID: "load", Type: workflow.NodeTypeTask, Data: workflow.NodeData{TaskType: "noop"}},
				{ID: "end", Type: workflow.NodeTypeEnd},
			},
			Edges: []workflow.WorkflowEdge{
				{ID: "e1", Source: "start", Target: "extract"},
				{ID: "e2", Source: "extract", Target: "load"},
				{ID: "e3", Source: "load", Target: "end"},
			},
		},
		{
			ID:   "wf-broken",
			Name: "Broken",
			Nodes: []workflow.WorkflowNode{
				{ID: "start", Type: workflow.NodeTypeStart},
				{ID: "a", Type: workflow.NodeTypeTask, Data: workflow.NodeData{TaskType: "noop"}},
				{ID: "end", Type: workflow.NodeTypeEnd},
			},
			Edges: []workflow.WorkflowEdge{
				{ID: "e1", Source: "start", Target: "a"},
				{ID: "e2", Source: "a", Target: "end"},
				{ID: "back", Source: "end", Target: "a"},
			},
		},
	}
}

func newTestService(t *testing.T) (*Service, *recordingAdapter) {
	t.Helper()
	adapter := &recordingAdapter{}
	svc, err := NewService(testDefs(), adapter, store.NewMemStore(),
		WithExecutorOptions(workflow.WithRetryBackoff(time.Millisecond)))
	require.NoError(t, err)
	return svc, adapter
}

// awaitTerminal drains an update stream until it closes, returning every
// received event.
func awaitTerminal(t *testing.T, events <-chan emit.Event) []emit.Event {
	t.Helper()
	var got []emit.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("stream did not terminate")
		}
	}
}

func TestService_ListAndGetWorkflows(t *testing.T) {
	svc, _ := newTestService(t)

	list := svc.ListWorkflows()
	require.Len(t, list, 2)
	assert.Equal(t, "wf-etl", list[0].ID)
	assert.Equal(t, "extract and load", list[0].Description)

	def, err := svc.GetWorkflow("wf-etl")
	require.NoError(t, err)
	assert.Equal(t, "ETL", def.Name)

	_, err = svc.GetWorkflow("ghost")
	assert.True(t, errors.Is(err, workflow.ErrNotFound))
}

func TestService_TriggerWorkflow(t *testing.T) {
	t.Run("runs to completion and persists", func(t *testing.T) {
		svc, adapter := newTestService(t)

		res := svc.TriggerWorkflow("wf-etl")
		require.True(t, res.Success, res.Message)
		require.NotEmpty(t, res.ExecutionID)
		svc.Wait()

		run, err := svc.GetExecution(context.Background(), res.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, workflow.ExecutionStatusSuccess, run.Status)
		assert.Equal(t, 1, adapter.callsFor("extract"))
		assert.Equal(t, 1, adapter.callsFor("load"))
	})

	t.Run("unknown workflow fails synchronously", func(t *testing.T) {
		svc, _ := newTestService(t)
		res := svc.TriggerWorkflow("ghost")
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "not found")
	})

	t.Run("structurally broken workflow fails synchronously", func(t *testing.T) {
		svc, adapter := newTestService(t)
		res := svc.TriggerWorkflow("wf-broken")
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "cycle")
		assert.Empty(t, res.ExecutionID)
		assert.Empty(t, adapter.calls)
	})
}

func TestService_UpdateStream(t *testing.T) {
	adapter := &recordingAdapter{}
	memStore := store.NewMemStore()
	svc, err := NewService(testDefs(), adapter, memStore,
		WithExecutorOptions(workflow.WithRetryBackoff(time.Millisecond)))
	require.NoError(t, err)

	// Gate the first task so the subscription attaches before the run can
	// reach its terminal event.
	release := make(chan struct{})
	svc.adapter = &gatedAdapter{inner: adapter, gate: release, gateNode: "extract"}

	res := svc.TriggerWorkflow("wf-etl")
	require.True(t, res.Success)

	events, cancel := svc.OnExecutionUpdate(res.ExecutionID)
	defer cancel()
	close(release)

	got := awaitTerminal(t, events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, emit.EventExecutionCompleted, last.Type)
	for _, ev := range got[:len(got)-1] {
		assert.False(t, ev.Type.Terminal(), "terminal event before end of stream")
	}
}

// gatedAdapter blocks one node until the gate opens.
type gatedAdapter struct {
	inner    *recordingAdapter
	gate     chan struct{}
	gateNode string
}

func (g *gatedAdapter) ExecuteTaskNode(ctx context.Context, nodeID, taskType string, params map[string]any, ec *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	if nodeID == g.gateNode {
		<-g.gate
	}
	return g.inner.ExecuteTaskNode(ctx, nodeID, taskType, params, ec)
}

func TestService_CancelExecution(t *testing.T) {
	t.Run("cancelling an unknown run fails", func(t *testing.T) {
		svc, _ := newTestService(t)
		res := svc.CancelExecution("ghost")
		assert.False(t, res.Success)
	})

	t.Run("cancelling a live run stops it", func(t *testing.T) {
		adapter := &recordingAdapter{}
		release := make(chan struct{})
		gate := &gatedAdapter{inner: adapter, gate: release, gateNode: "extract"}
		svc, err := NewService(testDefs(), gate, store.NewMemStore())
		require.NoError(t, err)

		res := svc.TriggerWorkflow("wf-etl")
		require.True(t, res.Success)
		time.Sleep(20 * time.Millisecond)

		cancelRes := svc.CancelExecution(res.ExecutionID)
		assert.True(t, cancelRes.Success)
		close(release)
		svc.Wait()

		run, err := svc.GetExecution(context.Background(), res.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, workflow.ExecutionStatusCancelled, run.Status)
		assert.Equal(t, 0, adapter.callsFor("load"))
	})
}

func TestService_RetryExecution(t *testing.T) {
	svc, adapter := newTestService(t)
	adapter.setFailing("load", true)

	res := svc.TriggerWorkflow("wf-etl")
	require.True(t, res.Success)
	svc.Wait()

	failed, err := svc.GetExecution(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, workflow.ExecutionStatusFailed, failed.Status)

	adapter.setFailing("load", false)
	retryRes := svc.RetryExecution(context.Background(), res.ExecutionID)
	require.True(t, retryRes.Success, retryRes.Message)
	require.NotEmpty(t, retryRes.NewExecutionID)
	assert.NotEqual(t, res.ExecutionID, retryRes.NewExecutionID)
	svc.Wait()

	retried, err := svc.GetExecution(context.Background(), retryRes.NewExecutionID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionStatusSuccess, retried.Status)
	// extract succeeded in the first run and must not re-execute.
	assert.Equal(t, 1, adapter.callsFor("extract"))
	assert.Equal(t, 2, adapter.callsFor("load"))

	t.Run("retry of an unknown run fails", func(t *testing.T) {
		bad := svc.RetryExecution(context.Background(), "ghost")
		assert.False(t, bad.Success)
	})
}

func TestService_ListExecutions(t *testing.T) {
	svc, _ := newTestService(t)
	first := svc.TriggerWorkflow("wf-etl")
	require.True(t, first.Success)
	svc.Wait()
	second := svc.TriggerWorkflow("wf-etl")
	require.True(t, second.Success)
	svc.Wait()

	summaries, err := svc.ListExecutions(context.Background(), "wf-etl", 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	for _, s := range summaries {
		assert.Equal(t, workflow.ExecutionStatusSuccess, s.Status)
		assert.Equal(t, 4, s.Progress.Total)
		assert.Equal(t, 4, s.Progress.Completed)
	}
}
