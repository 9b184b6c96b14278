package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthos-ai/orchestrator/workflow"
	"github.com/synthos-ai/orchestrator/workflow/bus"
	"github.com/synthos-ai/orchestrator/workflow/registry"
)

// fakeRuntime consumes DispatchTask messages and answers on CompleteTask.
func fakeRuntime(t *testing.T, b *bus.Bus, respond func(DispatchPayload) *CompletePayload) func() {
	t.Helper()
	sub := b.Subscribe(bus.ChannelDispatchTask, 0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.C {
			payload, ok := msg.Payload.(DispatchPayload)
			if !ok {
				continue
			}
			if reply := respond(payload); reply != nil {
				b.Publish(bus.ChannelCompleteTask, *reply)
			}
		}
	}()
	return func() {
		sub.Unsubscribe()
		<-done
	}
}

func newTestBridge(t *testing.T, b *bus.Bus, opts ...BridgeOption) (*Bridge, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(&registry.TaskMetadata{
		InternalName: "sync-data",
		DisplayName:  "Sync Data",
		GenerateDefaultParams: func(_ *workflow.ExecutionContext, taskConfig map[string]any) map[string]any {
			defaults := map[string]any{"mode": "incremental"}
			if taskConfig != nil {
				defaults["source"] = taskConfig["source"]
			}
			return defaults
		},
	}))
	return NewBridge(b, reg, opts...), reg
}

func TestBridge_SuccessfulDispatch(t *testing.T) {
	b := bus.New()
	bridge, _ := newTestBridge(t, b,
		WithTaskConfigs(map[string]map[string]any{"sync-data": {"source": "crm"}}),
		WithBridgeLogger(zerolog.Nop()))

	var dispatched DispatchPayload
	stop := fakeRuntime(t, b, func(p DispatchPayload) *CompletePayload {
		dispatched = p
		return &CompletePayload{Metadata: p.Metadata}
	})
	defer stop()

	ec := workflow.NewExecutionContext("exec-1")
	result, err := bridge.ExecuteTaskNode(context.Background(), "n1", "sync-data",
		map[string]any{"mode": "full"}, ec)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)

	out, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sync-data", out["taskType"])

	resolved, ok := out["resolvedParams"].(map[string]any)
	require.True(t, ok)
	// Caller wins key-by-key over generated defaults.
	assert.Equal(t, "full", resolved["mode"])
	assert.Equal(t, "crm", resolved["source"])
	assert.Equal(t, resolved, dispatched.Params)

	// The bridge must have released its completion subscription.
	assert.Equal(t, 0, b.SubscriberCount(bus.ChannelCompleteTask))
}

func TestBridge_AcceptsPointerCompletions(t *testing.T) {
	b := bus.New()
	bridge, _ := newTestBridge(t, b)

	// Some runtimes publish the completion payload by pointer.
	sub := b.Subscribe(bus.ChannelDispatchTask, 0)
	defer sub.Unsubscribe()
	go func() {
		for msg := range sub.C {
			if p, ok := msg.Payload.(DispatchPayload); ok {
				b.Publish(bus.ChannelCompleteTask, &CompletePayload{Metadata: p.Metadata})
			}
		}
	}()

	result, err := bridge.ExecuteTaskNode(context.Background(), "n1", "sync-data", nil,
		workflow.NewExecutionContext("exec-1"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
}

func TestBridge_IgnoresUnrelatedCompletions(t *testing.T) {
	b := bus.New()
	bridge, reg := newTestBridge(t, b)
	require.NoError(t, reg.Register(&registry.TaskMetadata{InternalName: "other-task"}))

	other, err := reg.Get("other-task")
	require.NoError(t, err)

	stop := fakeRuntime(t, b, func(p DispatchPayload) *CompletePayload {
		// Answer with an unrelated completion first, then the real one.
		b.Publish(bus.ChannelCompleteTask, CompletePayload{Metadata: other})
		return &CompletePayload{Metadata: p.Metadata}
	})
	defer stop()

	result, err := bridge.ExecuteTaskNode(context.Background(), "n1", "sync-data", nil,
		workflow.NewExecutionContext("exec-1"))
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestBridge_Timeout(t *testing.T) {
	b := bus.New()
	bridge, _ := newTestBridge(t, b, WithTaskTimeout(30*time.Millisecond))

	// No runtime answers.
	result, err := bridge.ExecuteTaskNode(context.Background(), "n1", "sync-data", nil,
		workflow.NewExecutionContext("exec-1"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
	assert.Equal(t, 0, b.SubscriberCount(bus.ChannelCompleteTask))
}

func TestBridge_UnknownTaskType(t *testing.T) {
	b := bus.New()
	bridge, _ := newTestBridge(t, b)

	_, err := bridge.ExecuteTaskNode(context.Background(), "n1", "ghost-task", nil,
		workflow.NewExecutionContext("exec-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, workflow.ErrUnknownTaskType))

	var ne *workflow.NodeError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, workflow.CodeAdapterFailure, ne.Code)
}

func TestBridge_SchemaRejection(t *testing.T) {
	b := bus.New()
	reg := registry.New()
	require.NoError(t, reg.Register(&registry.TaskMetadata{
		InternalName: "strict-task",
		ParamsSchema: []byte(`{"type":"object","required":["target"]}`),
	}))
	bridge := NewBridge(b, reg)

	_, err := bridge.ExecuteTaskNode(context.Background(), "n1", "strict-task",
		map[string]any{"wrong": true}, workflow.NewExecutionContext("exec-1"))
	require.Error(t, err)
	// Nothing may be published for invalid params.
	assert.Equal(t, 0, b.SubscriberCount(bus.ChannelCompleteTask))
}

func TestBridge_CancellationReleasesSubscription(t *testing.T) {
	b := bus.New()
	bridge, _ := newTestBridge(t, b, WithTaskTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := bridge.ExecuteTaskNode(ctx, "n1", "sync-data", nil,
		workflow.NewExecutionContext("exec-1"))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, b.SubscriberCount(bus.ChannelCompleteTask))
}
