// Package orchestrator exposes the workflow engine's external operations:
// trigger, cancel, retry, listing, single-run queries, and the per-execution
// update stream.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/synthos-ai/orchestrator/workflow"
	"github.com/synthos-ai/orchestrator/workflow/emit"
)

// WorkflowSummary is the listing view of a configured workflow.
type WorkflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// TriggerResult is the response to TriggerWorkflow.
type TriggerResult struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"executionId,omitempty"`
	Message     string `json:"message"`
}

// CancelResult is the response to CancelExecution.
type CancelResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RetryResult is the response to RetryExecution.
type RetryResult struct {
	Success        bool   `json:"success"`
	NewExecutionID string `json:"newExecutionId,omitempty"`
	Message        string `json:"message"`
}

// Service aggregates the engine behind the external operation surface.
//
// It keeps a live map of execution ID to executor for runs in flight and a
// channel emitter fanning executor events out to OnExecutionUpdate
// subscribers. Terminal events remove the run from the live map and close
// its subscriber streams. Listing and single-run queries always go to
// persistence, so they see completed runs from earlier processes too.
type Service struct {
	defs    map[string]*workflow.WorkflowDefinition
	order   []string
	adapter workflow.ExecutorAdapter
	store   workflow.ExecutionStore
	stream  *emit.ChannelEmitter
	extra   emit.Emitter
	metrics *workflow.Metrics
	log     zerolog.Logger

	execOpts []workflow.ExecutorOption

	mu   sync.Mutex
	live map[string]*workflow.Executor
	wg   sync.WaitGroup
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger attaches a logger.
func WithServiceLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithServiceMetrics attaches metrics, forwarded to every executor.
func WithServiceMetrics(m *workflow.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithExtraEmitter adds an emitter (logging, tracing) alongside the update
// stream.
func WithExtraEmitter(e emit.Emitter) ServiceOption {
	return func(s *Service) { s.extra = e }
}

// WithExecutorOptions forwards options (concurrency bound, retry backoff)
// to every executor the service builds.
func WithExecutorOptions(opts ...workflow.ExecutorOption) ServiceOption {
	return func(s *Service) { s.execOpts = opts }
}

// NewService creates a Service over the configured workflow definitions.
// Definitions are validated lazily at trigger time, so a broken definition
// does not prevent the service from starting.
func NewService(defs []workflow.WorkflowDefinition, adapter workflow.ExecutorAdapter, store workflow.ExecutionStore, opts ...ServiceOption) (*Service, error) {
	if adapter == nil {
		return nil, fmt.Errorf("executor adapter is required")
	}
	if store == nil {
		return nil, fmt.Errorf("execution store is required")
	}

	s := &Service{
		defs:   make(map[string]*workflow.WorkflowDefinition, len(defs)),
		store:  store,
		stream: emit.NewChannelEmitter(0),
		log:    zerolog.Nop(),
		live:   make(map[string]*workflow.Executor),
	}
	s.adapter = adapter
	for i := range defs {
		def := &defs[i]
		if _, dup := s.defs[def.ID]; dup {
			return nil, fmt.Errorf("duplicate workflow id %q", def.ID)
		}
		s.defs[def.ID] = def
		s.order = append(s.order, def.ID)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ListWorkflows returns the configured workflows in configuration order.
func (s *Service) ListWorkflows() []WorkflowSummary {
	out := make([]WorkflowSummary, 0, len(s.order))
	for _, id := range s.order {
		def := s.defs[id]
		out = append(out, WorkflowSummary{ID: def.ID, Name: def.Name, Description: def.Description})
	}
	return out
}

// GetWorkflow returns the definition by ID, or workflow.ErrNotFound.
func (s *Service) GetWorkflow(id string) (*workflow.WorkflowDefinition, error) {
	def, ok := s.defs[id]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", id, workflow.ErrNotFound)
	}
	return def, nil
}

// TriggerWorkflow starts a new run of the workflow and returns once it is
// scheduled.
//
// The definition is parsed eagerly, so structural defects come back
// synchronously in the response message instead of only as a failed run.
func (s *Service) TriggerWorkflow(workflowID string) TriggerResult {
	def, ok := s.defs[workflowID]
	if !ok {
		return TriggerResult{Success: false, Message: fmt.Sprintf("workflow %q not found", workflowID)}
	}
	if _, err := workflow.ParsePlan(def); err != nil {
		return TriggerResult{Success: false, Message: err.Error()}
	}

	executionID := uuid.NewString()
	x, err := s.newExecutor(def, executionID)
	if err != nil {
		return TriggerResult{Success: false, Message: err.Error()}
	}

	s.launch(x, false)
	s.log.Info().
		Str("workflow_id", workflowID).
		Str("execution_id", executionID).
		Msg("workflow triggered")
	return TriggerResult{Success: true, ExecutionID: executionID, Message: "execution scheduled"}
}

// CancelExecution requests a best-effort stop of a live run.
func (s *Service) CancelExecution(executionID string) CancelResult {
	s.mu.Lock()
	x, ok := s.live[executionID]
	s.mu.Unlock()
	if !ok {
		return CancelResult{Success: false, Message: fmt.Sprintf("execution %q is not running", executionID)}
	}
	x.Cancel()
	return CancelResult{Success: true, Message: "cancellation requested"}
}

// RetryExecution resumes a saved run under a new execution ID. Completed
// node states carry over; failed nodes run again.
func (s *Service) RetryExecution(ctx context.Context, executionID string) RetryResult {
	prior, err := s.store.LoadExecution(ctx, executionID)
	if err != nil {
		return RetryResult{Success: false, Message: fmt.Sprintf("could not load execution %q: %v", executionID, err)}
	}
	if prior.Snapshot == nil {
		return RetryResult{Success: false, Message: fmt.Sprintf("execution %q has no definition snapshot", executionID)}
	}

	newID := uuid.NewString()
	x, err := s.newExecutor(prior.Snapshot, newID, workflow.WithPriorState(prior))
	if err != nil {
		return RetryResult{Success: false, Message: err.Error()}
	}

	s.launch(x, true)
	s.log.Info().
		Str("execution_id", executionID).
		Str("new_execution_id", newID).
		Msg("execution retried")
	return RetryResult{Success: true, NewExecutionID: newID, Message: "retry scheduled"}
}

// ListExecutions returns run summaries for a workflow, newest first.
func (s *Service) ListExecutions(ctx context.Context, workflowID string, limit int) ([]workflow.ExecutionSummary, error) {
	runs, err := s.store.ListExecutions(ctx, workflowID, limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]workflow.ExecutionSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, run.Summary())
	}
	return summaries, nil
}

// GetExecution returns the full saved run, or workflow.ErrNotFound.
func (s *Service) GetExecution(ctx context.Context, executionID string) (*workflow.WorkflowExecution, error) {
	return s.store.LoadExecution(ctx, executionID)
}

// OnExecutionUpdate subscribes to one execution's event stream. The channel
// closes after the terminal event; the caller must invoke cancel when done
// regardless.
func (s *Service) OnExecutionUpdate(executionID string) (<-chan emit.Event, func()) {
	return s.stream.Subscribe(executionID)
}

// RunPipeline triggers every configured workflow on a fixed cadence until
// ctx is cancelled. A non-positive interval disables the pipeline and
// returns immediately.
func (s *Service) RunPipeline(ctx context.Context, intervalMinutes int) {
	if intervalMinutes <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(intervalMinutes) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.order {
				res := s.TriggerWorkflow(id)
				if !res.Success {
					s.log.Warn().
						Str("workflow_id", id).
						Str("reason", res.Message).
						Msg("pipeline trigger skipped workflow")
				}
			}
		}
	}
}

// Wait blocks until every live run finishes. Intended for shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) newExecutor(def *workflow.WorkflowDefinition, executionID string, extra ...workflow.ExecutorOption) (*workflow.Executor, error) {
	emitter := emit.Emitter(s.stream)
	if s.extra != nil {
		emitter = emit.NewMultiEmitter(s.stream, s.extra)
	}
	opts := []workflow.ExecutorOption{
		workflow.WithEmitter(emitter),
		workflow.WithMetrics(s.metrics),
		workflow.WithLogger(s.log),
	}
	opts = append(opts, s.execOpts...)
	opts = append(opts, extra...)
	return workflow.NewExecutor(def, executionID, s.adapter, s.store, opts...)
}

// launch registers the run as live and drives it on its own goroutine. The
// run detaches from the caller's context; cancellation goes through
// CancelExecution.
func (s *Service) launch(x *workflow.Executor, resume bool) {
	executionID := x.ExecutionID()
	s.mu.Lock()
	s.live[executionID] = x
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.live, executionID)
			s.mu.Unlock()
		}()
		if _, err := x.Execute(context.Background(), resume); err != nil {
			s.log.Warn().Err(err).
				Str("execution_id", executionID).
				Msg("run finished with failure")
		}
	}()
}
