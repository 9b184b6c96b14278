package workflow

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRetryBackoff is the fixed delay between node attempts. It is a
// documented constant: callers may raise it per strategy, but the default
// is never smaller.
const DefaultRetryBackoff = 3 * time.Second

// StrategyConfig is the per-node policy applied around any node operation.
type StrategyConfig struct {
	NodeID string

	// RetryCount is the number of retries after the first attempt, so the
	// operation runs at most RetryCount+1 times.
	RetryCount int

	// TimeoutMs bounds each attempt. 0 disables the timer.
	TimeoutMs int64

	// SkipOnFailure converts exhaustion into a synthetic failed result
	// instead of an error, letting the run continue.
	SkipOnFailure bool
}

// NodeOperation is any node body the strategy can wrap.
type NodeOperation func(ctx context.Context) (*NodeExecutionResult, error)

// NodeStrategy applies retry, timeout, and skip-on-failure policy around a
// NodeOperation.
type NodeStrategy struct {
	cfg     StrategyConfig
	backoff time.Duration
	log     zerolog.Logger
	metrics *Metrics
}

// NewNodeStrategy creates a strategy with the default backoff.
func NewNodeStrategy(cfg StrategyConfig, log zerolog.Logger, metrics *Metrics) *NodeStrategy {
	return &NodeStrategy{
		cfg:     cfg,
		backoff: DefaultRetryBackoff,
		log:     log,
		metrics: metrics,
	}
}

// WithBackoff overrides the inter-attempt delay. Intended for tests and for
// deployments that need a longer pause; returns the strategy for chaining.
func (s *NodeStrategy) WithBackoff(d time.Duration) *NodeStrategy {
	s.backoff = d
	return s
}

// Execute runs the operation under the configured policy.
//
// Behavior:
//   - Up to RetryCount+1 attempts, separated by the fixed backoff.
//   - With TimeoutMs > 0 each attempt races a timer; a fired timer fails
//     the attempt with a NODE_TIMEOUT error and counts as one attempt.
//   - An attempt fails when it returns an error or a result with
//     Success=false.
//   - On exhaustion with SkipOnFailure set, a synthetic failed result is
//     returned with a nil error; otherwise the last failure propagates.
//   - Cancellation of ctx stops retrying immediately.
func (s *NodeStrategy) Execute(ctx context.Context, op NodeOperation) (*NodeExecutionResult, error) {
	attempts := s.cfg.RetryCount + 1
	var lastResult *NodeExecutionResult
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if s.metrics != nil {
				s.metrics.NodeRetried(s.cfg.NodeID)
			}
			s.log.Debug().
				Str("nodeId", s.cfg.NodeID).
				Int("attempt", attempt+1).
				Int("maxAttempts", attempts).
				Msg("retrying node after backoff")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff):
			}
		}

		result, err := s.runAttempt(ctx, op)
		if err == nil && (result == nil || result.Success) {
			return result, nil
		}
		lastResult, lastErr = result, err
		if ctx.Err() != nil {
			// The enclosing run was cancelled; do not burn retries on a
			// dead context.
			return nil, ctx.Err()
		}
	}

	if s.cfg.SkipOnFailure {
		now := nowMillis()
		msg := "node failed"
		if lastErr != nil {
			msg = lastErr.Error()
		} else if lastResult != nil && lastResult.Error != "" {
			msg = lastResult.Error
		}
		return &NodeExecutionResult{
			Success:     false,
			Error:       msg,
			StartedAt:   now,
			CompletedAt: now,
		}, nil
	}
	if lastErr != nil {
		return lastResult, lastErr
	}
	// The operation reported failure through the result without an error
	// (e.g. a bus timeout translated by the dispatcher). Surface it as-is;
	// the executor treats Success=false as terminal failure.
	return lastResult, nil
}

// runAttempt executes one attempt, racing it against the configured timer.
func (s *NodeStrategy) runAttempt(ctx context.Context, op NodeOperation) (*NodeExecutionResult, error) {
	if s.cfg.TimeoutMs <= 0 {
		return op(ctx)
	}

	timeout := time.Duration(s.cfg.TimeoutMs) * time.Millisecond
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *NodeExecutionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := op(attemptCtx)
		done <- outcome{result: r, err: err}
	}()

	select {
	case out := <-done:
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, NewNodeTimeoutError(s.cfg.NodeID, s.cfg.TimeoutMs)
		}
		return out.result, out.err
	case <-attemptCtx.Done():
		if attemptCtx.Err() == context.DeadlineExceeded {
			// The attempt keeps running until it observes the cancelled
			// context; its eventual result is discarded.
			return nil, NewNodeTimeoutError(s.cfg.NodeID, s.cfg.TimeoutMs)
		}
		return nil, attemptCtx.Err()
	}
}
