package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records engine-level metrics. A nil *Collector is safe to use and
// records nothing, so call sites need no guards.
type Collector struct {
	nodeExecutions     *prometheus.CounterVec
	nodeDuration       *prometheus.HistogramVec
	workflowExecutions *prometheus.CounterVec
	workflowDuration   prometheus.Histogram
	readyQueueDepth    prometheus.Gauge
	runningExecutions  prometheus.Gauge
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmesh_node_executions_total",
			Help: "Node invocations by type and outcome.",
		}, []string{"node_type", "outcome"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowmesh_node_duration_seconds",
			Help:    "Node invocation duration by type.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"node_type"}),
		workflowExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowmesh_workflow_executions_total",
			Help: "Workflow executions by terminal status.",
		}, []string{"status"}),
		workflowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowmesh_workflow_duration_seconds",
			Help:    "End-to-end execution duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		readyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowmesh_ready_queue_depth",
			Help: "Nodes waiting for a worker across all executions.",
		}),
		runningExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowmesh_running_executions",
			Help: "Executions currently in flight.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.nodeExecutions,
			c.nodeDuration,
			c.workflowExecutions,
			c.workflowDuration,
			c.readyQueueDepth,
			c.runningExecutions,
		)
	}
	return c
}

func (c *Collector) RecordNodeExecution(nodeType string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.nodeExecutions.WithLabelValues(nodeType, outcome).Inc()
	c.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

func (c *Collector) RecordWorkflowExecution(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.workflowExecutions.WithLabelValues(status).Inc()
	c.workflowDuration.Observe(duration.Seconds())
}

func (c *Collector) SetReadyQueueDepth(n int) {
	if c == nil {
		return
	}
	c.readyQueueDepth.Set(float64(n))
}

func (c *Collector) ExecutionStarted() {
	if c == nil {
		return
	}
	c.runningExecutions.Inc()
}

func (c *Collector) ExecutionFinished() {
	if c == nil {
		return
	}
	c.runningExecutions.Dec()
}
