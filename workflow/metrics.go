package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for workflow execution, namespaced
// with "synthos".
//
// Metrics exposed:
//
//  1. executions_total (counter): finished runs. Labels: workflow_id, status.
//  2. inflight_nodes (gauge): nodes currently executing across all runs.
//  3. node_duration_ms (histogram): node execution duration. Labels:
//     node_type, status. Buckets span 1ms to 10s.
//  4. node_retries_total (counter): retry attempts. Labels: node_id.
//  5. dispatch_timeouts_total (counter): bus completions that never arrived.
//  6. persistence_retries_total (counter): intermediate save retries.
//
// All methods are nil-safe: a nil *Metrics disables collection, so callers
// never need to guard.
type Metrics struct {
	executions         *prometheus.CounterVec
	inflightNodes      prometheus.Gauge
	nodeDuration       *prometheus.HistogramVec
	nodeRetries        *prometheus.CounterVec
	dispatchTimeouts   prometheus.Counter
	persistenceRetries prometheus.Counter
}

// NewMetrics creates and registers all workflow metrics with the registry.
// Pass prometheus.DefaultRegisterer for the global registry, or a dedicated
// prometheus.NewRegistry() for isolation (recommended in tests).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synthos",
			Name:      "executions_total",
			Help:      "Workflow runs finished, by workflow and terminal status.",
		}, []string{"workflow_id", "status"}),
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "synthos",
			Name:      "inflight_nodes",
			Help:      "Nodes currently executing across all runs.",
		}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "synthos",
			Name:      "node_duration_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_type", "status"}),
		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synthos",
			Name:      "node_retries_total",
			Help:      "Retry attempts per node.",
		}, []string{"node_id"}),
		dispatchTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synthos",
			Name:      "dispatch_timeouts_total",
			Help:      "Task dispatches that timed out waiting for a bus completion.",
		}),
		persistenceRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synthos",
			Name:      "persistence_retries_total",
			Help:      "Intermediate persistence writes retried after a failure.",
		}),
	}
}

// ExecutionFinished records a run reaching a terminal status.
func (m *Metrics) ExecutionFinished(workflowID string, status ExecutionStatus) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(workflowID, string(status)).Inc()
}

// NodeStarted increments the inflight gauge.
func (m *Metrics) NodeStarted() {
	if m == nil {
		return
	}
	m.inflightNodes.Inc()
}

// NodeFinished decrements the inflight gauge and observes duration.
func (m *Metrics) NodeFinished(nodeType NodeType, status NodeStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflightNodes.Dec()
	m.nodeDuration.WithLabelValues(string(nodeType), string(status)).
		Observe(float64(elapsed.Milliseconds()))
}

// NodeRetried counts a retry attempt for the node.
func (m *Metrics) NodeRetried(nodeID string) {
	if m == nil {
		return
	}
	m.nodeRetries.WithLabelValues(nodeID).Inc()
}

// DispatchTimedOut counts a bus completion that never arrived.
func (m *Metrics) DispatchTimedOut() {
	if m == nil {
		return
	}
	m.dispatchTimeouts.Inc()
}

// PersistenceRetried counts an intermediate save retried after a failure.
func (m *Metrics) PersistenceRetried() {
	if m == nil {
		return
	}
	m.persistenceRetries.Inc()
}
