package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus instrumentation for the graph runtime.
//
// Register against a custom registry in tests:
//
//	registry := prometheus.NewRegistry()
//	metrics := NewMetrics(registry)
type Metrics struct {
	executions  *prometheus.CounterVec
	nodes       *prometheus.CounterVec
	retries     prometheus.Counter
	nodeLatency *prometheus.HistogramVec
	execLatency prometheus.Histogram
	tokens      *prometheus.CounterVec
	inflight    prometheus.Gauge
}

// NewMetrics creates and registers runtime metrics. A nil registry uses
// the default registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &Metrics{}
	m.executions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floweave",
		Name:      "executions_total",
		Help:      "Workflow executions by terminal status",
	}, []string{"status"})
	m.nodes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floweave",
		Name:      "node_executions_total",
		Help:      "Node executions by node type and terminal status",
	}, []string{"type", "status"})
	m.retries = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "floweave",
		Name:      "node_retries_total",
		Help:      "Cumulative count of node retry attempts",
	})
	m.nodeLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "floweave",
		Name:      "node_duration_seconds",
		Help:      "Node execution duration from dispatch to completion",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})
	m.execLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "floweave",
		Name:      "execution_duration_seconds",
		Help:      "Whole-execution duration",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	})
	m.tokens = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floweave",
		Name:      "llm_tokens_total",
		Help:      "LLM tokens consumed, by direction",
	}, []string{"direction"})
	m.inflight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "floweave",
		Name:      "inflight_nodes",
		Help:      "Nodes currently executing",
	})
	return m
}

func (m *Metrics) observeExecution(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(status).Inc()
	m.execLatency.Observe(d.Seconds())
}

func (m *Metrics) observeNode(nodeType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(nodeType, status).Inc()
	m.nodeLatency.WithLabelValues(nodeType).Observe(d.Seconds())
}

func (m *Metrics) observeRetry() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) observeTokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("prompt").Add(float64(prompt))
	m.tokens.WithLabelValues("completion").Add(float64(completion))
}

func (m *Metrics) nodeStarted() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) nodeFinished() {
	if m != nil {
		m.inflight.Dec()
	}
}
