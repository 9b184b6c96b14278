package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/synthos-ai/orchestrator/workflow/emit"
)

// Executor drives one run of a workflow: it parses the snapshot into
// layers, dispatches each layer's nodes concurrently behind a settled
// barrier, applies per-node strategy, emits execution events, and persists
// every state change.
//
// An Executor owns its run exclusively until the run reaches a terminal
// status; all persistence writes for the run are serialized on the driving
// goroutine.
type Executor struct {
	executionID string
	snapshot    *WorkflowDefinition
	adapter     ExecutorAdapter
	store       ExecutionStore
	emitter     emit.Emitter
	metrics     *Metrics
	log         zerolog.Logger
	evaluator   *ConditionEvaluator

	// maxConcurrent bounds parallelism within a layer; 0 means bounded
	// only by the layer width.
	maxConcurrent int

	// backoff is handed to every node strategy.
	backoff time.Duration

	// prior optionally seeds resume state, used when the resumed run
	// carries a different execution ID (retry with a fresh ID).
	prior *WorkflowExecution

	mu           sync.Mutex
	cancelRun    context.CancelFunc
	persistWedge bool // an intermediate save failed twice; fail at finalization

	// persistMu serializes SaveExecution calls: node goroutines within a
	// layer persist their own state changes, but the store only ever sees
	// one writer per run.
	persistMu sync.Mutex
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithEmitter sets the event emitter (default: none).
func WithEmitter(e emit.Emitter) ExecutorOption {
	return func(x *Executor) { x.emitter = e }
}

// WithMetrics sets the metrics collector (default: none).
func WithMetrics(m *Metrics) ExecutorOption {
	return func(x *Executor) { x.metrics = m }
}

// WithLogger sets the structured logger (default: zerolog.Nop()).
func WithLogger(log zerolog.Logger) ExecutorOption {
	return func(x *Executor) { x.log = log }
}

// WithMaxConcurrent bounds in-layer parallelism. 0 (the default) bounds
// parallelism only by the layer width.
func WithMaxConcurrent(n int) ExecutorOption {
	return func(x *Executor) { x.maxConcurrent = n }
}

// WithRetryBackoff overrides the delay between node attempts. The engine
// default is DefaultRetryBackoff; deployments should not go below it.
func WithRetryBackoff(d time.Duration) ExecutorOption {
	return func(x *Executor) { x.backoff = d }
}

// WithPriorState seeds resume hydration from an already-loaded run instead
// of the store. Used by retry, where the new run has a fresh execution ID
// but resumes the saved run's progress.
func WithPriorState(run *WorkflowExecution) ExecutorOption {
	return func(x *Executor) { x.prior = run }
}

// NewExecutor builds an executor for one run. The definition is deep-copied
// into the run's snapshot, so later mutations of def cannot affect the run.
func NewExecutor(def *WorkflowDefinition, executionID string, adapter ExecutorAdapter, store ExecutionStore, opts ...ExecutorOption) (*Executor, error) {
	if def == nil {
		return nil, errors.New("workflow definition is required")
	}
	if executionID == "" {
		return nil, errors.New("execution ID is required")
	}
	if adapter == nil {
		return nil, errors.New("executor adapter is required")
	}
	if store == nil {
		return nil, errors.New("execution store is required")
	}

	snapshot, err := def.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot definition: %w", err)
	}
	x := &Executor{
		executionID: executionID,
		snapshot:    snapshot,
		adapter:     adapter,
		store:       store,
		log:         zerolog.Nop(),
		backoff:     DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(x)
	}
	x.evaluator = NewConditionEvaluator(x.log)
	return x, nil
}

// ExecutionID returns the run's ID.
func (x *Executor) ExecutionID() string {
	return x.executionID
}

// Cancel requests a best-effort stop of the run. Nodes already inside the
// adapter finish or time out on their own; everything still pending is
// marked cancelled.
func (x *Executor) Cancel() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.cancelRun != nil {
		x.cancelRun()
	}
}

// nodeOutcome is one node's settled result within a layer barrier.
type nodeOutcome struct {
	nodeID string
	status NodeStatus
	err    error // non-nil only when the failure is fatal to the run
}

// Execute runs the workflow to a terminal status and returns the run.
//
// With resume set, terminal success/skipped node states from the prior run
// are rehydrated and never re-executed; a prior failed node is treated as
// pending again and retried. The prior run is the one saved under this
// executor's execution ID, unless WithPriorState supplied another.
//
// The returned error is non-nil when the run itself failed (validation,
// fatal node failure, finalization write failure); the run carries the
// terminal state either way.
func (x *Executor) Execute(ctx context.Context, resume bool) (*WorkflowExecution, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	x.mu.Lock()
	x.cancelRun = cancel
	x.mu.Unlock()

	run := &WorkflowExecution{
		ExecutionID: x.executionID,
		WorkflowID:  x.snapshot.ID,
		Status:      ExecutionStatusPending,
		StartedAt:   nowMillis(),
		NodeStates:  make(map[string]*NodeState),
		Snapshot:    x.snapshot,
	}
	ec := NewExecutionContext(x.executionID)

	plan, err := ParsePlan(x.snapshot)
	if err != nil {
		x.log.Error().Err(err).Str("executionId", x.executionID).Msg("workflow failed validation")
		return x.finalizeFailed(runCtx, run, ec, err)
	}

	// Every node starts pending so persisted runs always carry a complete
	// node-state map.
	for _, n := range x.snapshot.Nodes {
		ec.UpdateNodeStatus(n.ID, NodeStatusPending)
	}
	if resume {
		x.hydrate(runCtx, ec)
	}

	run.Status = ExecutionStatusRunning
	x.emitEvent(emit.Event{
		Type:        emit.EventExecutionStarted,
		ExecutionID: x.executionID,
		Meta:        map[string]any{"workflowId": x.snapshot.ID},
	})
	x.persistIntermediate(runCtx, run, ec)

	for _, layer := range plan.Layers {
		if runCtx.Err() != nil {
			return x.finalizeCancelled(ctx, run, ec)
		}
		runnable := x.runnableNodes(layer, plan, ec)
		if len(runnable) == 0 {
			continue
		}

		outcomes := x.executeLayer(runCtx, runnable, plan, run, ec)

		var fatal error
		for _, out := range outcomes {
			if out.err != nil && fatal == nil {
				fatal = out.err
			}
		}
		if fatal != nil {
			x.cancelPending(ec)
			return x.finalizeFailed(ctx, run, ec, fatal)
		}
	}

	if runCtx.Err() != nil {
		return x.finalizeCancelled(ctx, run, ec)
	}
	return x.finalizeSuccess(ctx, run, ec)
}

// hydrate restores terminal success/skipped node state from the prior run.
// Failed and cancelled nodes are left pending so resume retries them.
func (x *Executor) hydrate(ctx context.Context, ec *ExecutionContext) {
	prior := x.prior
	if prior == nil {
		loaded, err := x.store.LoadExecution(ctx, x.executionID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				x.log.Warn().Err(err).Str("executionId", x.executionID).
					Msg("could not load prior run state; starting fresh")
			}
			return
		}
		prior = loaded
	}
	for nodeID, ns := range prior.NodeStates {
		if ns.Status != NodeStatusSuccess && ns.Status != NodeStatusSkipped {
			continue
		}
		ec.UpdateNodeStatus(nodeID, ns.Status)
		if ns.Result != nil {
			r := *ns.Result
			ec.SetNodeResult(nodeID, &r)
		}
	}
}

// runnableNodes filters a layer down to nodes that still need to run and
// whose predecessors have all settled (success, failed, or skipped).
func (x *Executor) runnableNodes(layer []string, plan *ExecutionPlan, ec *ExecutionContext) []string {
	var runnable []string
	for _, nodeID := range layer {
		if ec.IsNodeCompleted(nodeID) {
			continue
		}
		ready := true
		for _, pred := range plan.Predecessors[nodeID] {
			switch ec.NodeStatus(pred) {
			case NodeStatusSuccess, NodeStatusFailed, NodeStatusSkipped:
			default:
				ready = false
			}
		}
		if ready {
			runnable = append(runnable, nodeID)
		}
	}
	return runnable
}

// executeLayer dispatches the runnable nodes concurrently and waits for all
// of them to settle, regardless of individual outcome.
func (x *Executor) executeLayer(ctx context.Context, runnable []string, plan *ExecutionPlan, run *WorkflowExecution, ec *ExecutionContext) []nodeOutcome {
	limit := len(runnable)
	if x.maxConcurrent > 0 && x.maxConcurrent < limit {
		limit = x.maxConcurrent
	}
	sem := make(chan struct{}, limit)
	outcomes := make([]nodeOutcome, len(runnable))

	var wg sync.WaitGroup
	for i, nodeID := range runnable {
		wg.Add(1)
		go func(i int, nodeID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = x.executeNode(ctx, nodeID, plan, run, ec)
		}(i, nodeID)
	}
	wg.Wait()
	return outcomes
}

// executeNode runs one node end to end: running transition, dispatch by
// type, result recording, its started/terminal event pair, and persistence
// of the updated state.
func (x *Executor) executeNode(ctx context.Context, nodeID string, plan *ExecutionPlan, run *WorkflowExecution, ec *ExecutionContext) nodeOutcome {
	node := x.snapshot.Node(nodeID)
	start := time.Now()

	ec.UpdateNodeStatus(nodeID, NodeStatusRunning)
	x.metrics.NodeStarted()
	x.emitEvent(emit.Event{
		Type:        emit.EventNodeStarted,
		ExecutionID: x.executionID,
		NodeID:      nodeID,
		State:       ec.NodeStateCopy(nodeID),
	})

	result, err := x.dispatchNode(ctx, node, plan, ec)
	if result == nil {
		now := nowMillis()
		result = &NodeExecutionResult{StartedAt: now, CompletedAt: now}
		if err != nil {
			result.Error = err.Error()
		}
	}
	if err != nil && result.Error == "" {
		result.Error = err.Error()
	}

	// A tolerated failure keeps status failed: the run continues past it,
	// and a later resume is allowed to retry the node.
	status := NodeStatusSuccess
	var fatal error
	if err != nil || !result.Success {
		status = NodeStatusFailed
		if !node.Data.SkipOnFailure {
			fatal = err
			if fatal == nil {
				fatal = &NodeError{
					NodeID:  nodeID,
					Code:    CodeNodeExecutionFailed,
					Message: result.Error,
				}
			}
		}
	}

	ec.SetNodeResult(nodeID, result)
	ec.UpdateNodeStatus(nodeID, status)
	x.metrics.NodeFinished(node.Type, status, time.Since(start))

	eventType := emit.EventNodeCompleted
	var meta map[string]any
	if status != NodeStatusSuccess {
		eventType = emit.EventNodeFailed
		meta = map[string]any{"error": result.Error}
	}
	x.emitEvent(emit.Event{
		Type:        eventType,
		ExecutionID: x.executionID,
		NodeID:      nodeID,
		State:       ec.NodeStateCopy(nodeID),
		Meta:        meta,
	})
	x.persistIntermediate(ctx, run, ec)

	return nodeOutcome{nodeID: nodeID, status: status, err: fatal}
}

// dispatchNode chooses the execution kind for a node. Task, script, and
// http nodes go through the node strategy; structural nodes settle with a
// synthetic success.
func (x *Executor) dispatchNode(ctx context.Context, node *WorkflowNode, plan *ExecutionPlan, ec *ExecutionContext) (*NodeExecutionResult, error) {
	switch node.Type {
	case NodeTypeStart, NodeTypeEnd, NodeTypeParallel:
		now := nowMillis()
		return &NodeExecutionResult{Success: true, StartedAt: now, CompletedAt: now}, nil

	case NodeTypeCondition:
		return x.evaluateConditionNode(node, plan, ec), nil

	case NodeTypeTask:
		return x.strategyFor(node).Execute(ctx, func(opCtx context.Context) (*NodeExecutionResult, error) {
			return x.adapter.ExecuteTaskNode(opCtx, node.ID, node.Data.TaskType, node.Data.Params, ec)
		})

	case NodeTypeScript:
		scripts, ok := x.adapter.(ScriptExecutor)
		if !ok {
			return nil, unsupportedNodeKindError(node.ID, node.Type)
		}
		return x.strategyFor(node).Execute(ctx, func(opCtx context.Context) (*NodeExecutionResult, error) {
			return scripts.ExecuteScriptNode(opCtx, node.ID, node.Data.ScriptCode, ec)
		})

	case NodeTypeHTTP:
		https, ok := x.adapter.(HTTPExecutor)
		if !ok {
			return nil, unsupportedNodeKindError(node.ID, node.Type)
		}
		return x.strategyFor(node).Execute(ctx, func(opCtx context.Context) (*NodeExecutionResult, error) {
			return https.ExecuteHTTPNode(opCtx, node.ID, node.Data.HTTP, ec)
		})

	default:
		return nil, unsupportedNodeKindError(node.ID, node.Type)
	}
}

// evaluateConditionNode records the branch truth as the node's output. The
// node itself always succeeds; downstream edges consume conditionResult.
func (x *Executor) evaluateConditionNode(node *WorkflowNode, plan *ExecutionPlan, ec *ExecutionContext) *NodeExecutionResult {
	started := nowMillis()
	prev := ""
	if preds := plan.Predecessors[node.ID]; len(preds) > 0 {
		prev = preds[0]
	}
	value := x.evaluator.Evaluate(node.Data.Condition, prev, ec)
	return &NodeExecutionResult{
		Success:     true,
		Output:      map[string]any{"conditionResult": value},
		StartedAt:   started,
		CompletedAt: nowMillis(),
	}
}

// strategyFor builds the retry/timeout/skip wrapper for a node.
func (x *Executor) strategyFor(node *WorkflowNode) *NodeStrategy {
	return NewNodeStrategy(StrategyConfig{
		NodeID:        node.ID,
		RetryCount:    node.Data.RetryCount,
		TimeoutMs:     node.Data.TimeoutMs,
		SkipOnFailure: node.Data.SkipOnFailure,
	}, x.log, x.metrics).WithBackoff(x.backoff)
}

// cancelPending marks every node that never reached a terminal state as
// cancelled.
func (x *Executor) cancelPending(ec *ExecutionContext) {
	for _, n := range x.snapshot.Nodes {
		if !ec.IsNodeCompleted(n.ID) {
			ec.UpdateNodeStatus(n.ID, NodeStatusCancelled)
		}
	}
}

// finalizeSuccess closes out a clean run.
func (x *Executor) finalizeSuccess(ctx context.Context, run *WorkflowExecution, ec *ExecutionContext) (*WorkflowExecution, error) {
	x.mu.Lock()
	wedged := x.persistWedge
	x.mu.Unlock()
	if wedged {
		return x.finalizeFailed(ctx, run, ec,
			errors.New("persistence unavailable during run; state may be incomplete"))
	}

	run.Status = ExecutionStatusSuccess
	run.CompletedAt = nowMillis()
	run.NodeStates = ec.AllNodeStates()
	if err := x.persistFinal(ctx, run); err != nil {
		run.Status = ExecutionStatusFailed
		run.Error = err.Error()
		x.emitTerminal(run)
		return run, err
	}
	x.emitTerminal(run)
	x.metrics.ExecutionFinished(run.WorkflowID, run.Status)
	return run, nil
}

// finalizeFailed closes out a failed run. The causing error is returned so
// callers can surface it; the run header carries its message.
func (x *Executor) finalizeFailed(ctx context.Context, run *WorkflowExecution, ec *ExecutionContext, cause error) (*WorkflowExecution, error) {
	run.Status = ExecutionStatusFailed
	run.CompletedAt = nowMillis()
	run.Error = cause.Error()
	run.NodeStates = ec.AllNodeStates()
	if err := x.persistFinal(ctx, run); err != nil {
		x.log.Error().Err(err).Str("executionId", x.executionID).
			Msg("failed to persist terminal run state")
	}
	x.emitTerminal(run)
	x.metrics.ExecutionFinished(run.WorkflowID, run.Status)
	return run, cause
}

// finalizeCancelled closes out a cancelled run.
func (x *Executor) finalizeCancelled(ctx context.Context, run *WorkflowExecution, ec *ExecutionContext) (*WorkflowExecution, error) {
	x.cancelPending(ec)
	run.Status = ExecutionStatusCancelled
	run.CompletedAt = nowMillis()
	run.NodeStates = ec.AllNodeStates()
	if err := x.persistFinal(ctx, run); err != nil {
		x.log.Error().Err(err).Str("executionId", x.executionID).
			Msg("failed to persist cancelled run state")
	}
	x.emitTerminal(run)
	x.metrics.ExecutionFinished(run.WorkflowID, run.Status)
	return run, context.Canceled
}

// emitTerminal emits the run's final event. It is always the last event
// for the execution ID.
func (x *Executor) emitTerminal(run *WorkflowExecution) {
	eventType := emit.EventExecutionCompleted
	meta := map[string]any{"status": string(run.Status)}
	if run.Status != ExecutionStatusSuccess {
		eventType = emit.EventExecutionFailed
		if run.Error != "" {
			meta["error"] = run.Error
		}
	}
	x.emitEvent(emit.Event{
		Type:        eventType,
		ExecutionID: x.executionID,
		Meta:        meta,
	})
}

// persistIntermediate saves the run mid-flight: a failure is logged and
// retried once; a second failure wedges the run so finalization reports it.
func (x *Executor) persistIntermediate(ctx context.Context, run *WorkflowExecution, ec *ExecutionContext) {
	x.persistMu.Lock()
	defer x.persistMu.Unlock()
	run.NodeStates = ec.AllNodeStates()
	err := x.store.SaveExecution(ctx, run)
	if err == nil {
		return
	}
	x.log.Warn().Err(err).Str("executionId", x.executionID).
		Msg("intermediate persistence write failed; retrying once")
	x.metrics.PersistenceRetried()
	if err := x.store.SaveExecution(ctx, run); err != nil {
		x.log.Error().Err(err).Str("executionId", x.executionID).
			Msg("intermediate persistence retry failed; run will fail at finalization")
		x.mu.Lock()
		x.persistWedge = true
		x.mu.Unlock()
	}
}

// persistFinal writes the terminal run state. Uses a background-derived
// context so a cancelled run still records its final header.
func (x *Executor) persistFinal(ctx context.Context, run *WorkflowExecution) error {
	if ctx.Err() != nil {
		var cancelSave context.CancelFunc
		ctx, cancelSave = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelSave()
	}
	return x.store.SaveExecution(ctx, run)
}

func (x *Executor) emitEvent(event emit.Event) {
	if x.emitter == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = emit.Now()
	}
	x.emitter.Emit(event)
}
