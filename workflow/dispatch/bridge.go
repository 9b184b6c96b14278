// Package dispatch provides the concrete executor adapters: the event-bus
// dispatcher bridge for task nodes, an HTTP runner, and an opt-in script
// runner, plus a composite that combines them.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/synthos-ai/orchestrator/workflow"
	"github.com/synthos-ai/orchestrator/workflow/bus"
	"github.com/synthos-ai/orchestrator/workflow/registry"
)

// DefaultTaskTimeout bounds how long the bridge waits for a matching
// completion on the bus before reporting the task failed.
const DefaultTaskTimeout = 90 * time.Minute

// DispatchPayload is the DispatchTask message body consumed by the external
// task runtime.
type DispatchPayload struct {
	Metadata *registry.TaskMetadata `json:"metadata"`
	Params   map[string]any         `json:"params"`
}

// CompletePayload is the CompleteTask message body published by the task
// runtime on success. The bridge matches on Metadata.InternalName.
type CompletePayload struct {
	Metadata *registry.TaskMetadata `json:"metadata"`
}

// Bridge implements workflow.ExecutorAdapter over the shared event bus.
//
// Each task node becomes one DispatchTask publish followed by a wait for the
// first CompleteTask whose internal name matches, raced against the task
// timeout and the caller's context. The completion subscription is always
// released, so a cancelled attempt never steals the next attempt's match.
type Bridge struct {
	bus         *bus.Bus
	registry    *registry.Registry
	taskConfigs map[string]map[string]any
	timeout     time.Duration
	metrics     *workflow.Metrics
	log         zerolog.Logger
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithTaskTimeout overrides DefaultTaskTimeout.
func WithTaskTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithTaskConfigs supplies the per-task configuration sections passed to
// default-params generators, keyed by internal name.
func WithTaskConfigs(configs map[string]map[string]any) BridgeOption {
	return func(b *Bridge) { b.taskConfigs = configs }
}

// WithBridgeMetrics attaches metrics (dispatch timeout counter).
func WithBridgeMetrics(m *workflow.Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

// WithBridgeLogger attaches a logger.
func WithBridgeLogger(log zerolog.Logger) BridgeOption {
	return func(b *Bridge) { b.log = log }
}

// NewBridge creates a Bridge over the given bus and registry.
func NewBridge(eventBus *bus.Bus, reg *registry.Registry, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		bus:      eventBus,
		registry: reg,
		timeout:  DefaultTaskTimeout,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ExecuteTaskNode dispatches the task onto the bus and waits for its
// completion.
//
// Resolution order for parameters: the registry's default-params generator
// runs first, then the node's own params overwrite key-by-key. The resolved
// map is validated against the task's schema before anything is published.
func (b *Bridge) ExecuteTaskNode(ctx context.Context, nodeID, taskType string, params map[string]any, ec *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	meta, err := b.registry.Get(taskType)
	if err != nil {
		return nil, &workflow.NodeError{
			NodeID:  nodeID,
			Code:    workflow.CodeAdapterFailure,
			Message: "task type lookup failed",
			Cause:   err,
		}
	}

	resolved := b.resolveParams(meta, params, ec)
	if err := b.registry.ValidateParams(taskType, resolved); err != nil {
		return nil, &workflow.NodeError{
			NodeID:  nodeID,
			Code:    workflow.CodeAdapterFailure,
			Message: "resolved params rejected by schema",
			Cause:   err,
		}
	}

	startedAt := time.Now().UnixMilli()

	// Subscribe before publishing so a runtime that completes instantly
	// cannot race past us.
	sub := b.bus.Subscribe(bus.ChannelCompleteTask, 0)
	defer sub.Unsubscribe()

	b.bus.Publish(bus.ChannelDispatchTask, DispatchPayload{Metadata: meta, Params: resolved})
	b.log.Debug().
		Str("node_id", nodeID).
		Str("task_type", taskType).
		Msg("dispatched task onto bus")

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-sub.C:
			completed := completionMetadata(msg.Payload)
			if completed == nil || completed.InternalName != taskType {
				continue
			}
			return &workflow.NodeExecutionResult{
				Success: true,
				Output: map[string]any{
					"taskType":       taskType,
					"resolvedParams": resolved,
				},
				StartedAt:   startedAt,
				CompletedAt: time.Now().UnixMilli(),
			}, nil

		case <-timer.C:
			b.metrics.DispatchTimedOut()
			b.log.Warn().
				Str("node_id", nodeID).
				Str("task_type", taskType).
				Dur("timeout", b.timeout).
				Msg("no completion arrived before the task timeout")
			return &workflow.NodeExecutionResult{
				Success:     false,
				Error:       workflow.ErrBusTimeout.Error(),
				StartedAt:   startedAt,
				CompletedAt: time.Now().UnixMilli(),
			}, nil

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// completionMetadata extracts the task metadata from a CompleteTask
// payload. Runtimes publish the payload by value or by pointer.
func completionMetadata(payload any) *registry.TaskMetadata {
	switch p := payload.(type) {
	case CompletePayload:
		return p.Metadata
	case *CompletePayload:
		if p != nil {
			return p.Metadata
		}
	}
	return nil
}

// resolveParams merges generated defaults with the node's params; the node
// wins key-by-key.
func (b *Bridge) resolveParams(meta *registry.TaskMetadata, params map[string]any, ec *workflow.ExecutionContext) map[string]any {
	resolved := make(map[string]any)
	if meta.GenerateDefaultParams != nil {
		for k, v := range meta.GenerateDefaultParams(ec, b.taskConfigs[meta.InternalName]) {
			resolved[k] = v
		}
	}
	for k, v := range params {
		resolved[k] = v
	}
	return resolved
}
