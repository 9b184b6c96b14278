package workflow

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	t.Run("nil metrics are safe", func(t *testing.T) {
		var m *Metrics
		m.ExecutionFinished("wf", ExecutionStatusSuccess)
		m.NodeStarted()
		m.NodeFinished(NodeTypeTask, NodeStatusSuccess, time.Millisecond)
		m.NodeRetried("n")
		m.DispatchTimedOut()
		m.PersistenceRetried()
	})

	t.Run("counters increment", func(t *testing.T) {
		m := NewMetrics(prometheus.NewRegistry())

		m.ExecutionFinished("wf-1", ExecutionStatusSuccess)
		m.ExecutionFinished("wf-1", ExecutionStatusFailed)
		if got := testutil.ToFloat64(m.executions.WithLabelValues("wf-1", "success")); got != 1 {
			t.Errorf("expected 1 success, got %v", got)
		}

		m.NodeStarted()
		if got := testutil.ToFloat64(m.inflightNodes); got != 1 {
			t.Errorf("expected 1 inflight node, got %v", got)
		}
		m.NodeFinished(NodeTypeTask, NodeStatusSuccess, 5*time.Millisecond)
		if got := testutil.ToFloat64(m.inflightNodes); got != 0 {
			t.Errorf("expected 0 inflight nodes, got %v", got)
		}

		m.NodeRetried("flaky")
		m.NodeRetried("flaky")
		if got := testutil.ToFloat64(m.nodeRetries.WithLabelValues("flaky")); got != 2 {
			t.Errorf("expected 2 retries, got %v", got)
		}

		m.DispatchTimedOut()
		if got := testutil.ToFloat64(m.dispatchTimeouts); got != 1 {
			t.Errorf("expected 1 dispatch timeout, got %v", got)
		}
		m.PersistenceRetried()
		if got := testutil.ToFloat64(m.persistenceRetries); got != 1 {
			t.Errorf("expected 1 persistence retry, got %v", got)
		}
	})
}
