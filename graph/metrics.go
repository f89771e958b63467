package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RegistryMetrics exposes Prometheus-compatible counters and histograms
// for the run registry: dep resolution and LM call latency, since this
// engine's nodes are LLM-filled records rather than a single reducer-step
// type.
type RegistryMetrics struct {
	activeRuns   prometheus.Gauge
	pendingGates prometheus.Gauge

	depLatency  *prometheus.HistogramVec
	lmLatency   *prometheus.HistogramVec
	maxIters    *prometheus.CounterVec
	runsByState *prometheus.CounterVec
}

// NewRegistryMetrics registers all run-registry metrics with registry. A
// nil registry falls back to the Prometheus default registerer.
func NewRegistryMetrics(registry prometheus.Registerer) *RegistryMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &RegistryMetrics{
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentgraph",
			Name:      "active_runs",
			Help:      "Current number of in-flight graph runs",
		}),
		pendingGates: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentgraph",
			Name:      "pending_gates",
			Help:      "Current number of unresolved input gates across all runs",
		}),
		depLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "dep_latency_ms",
			Help:      "Dep callable execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}, []string{"callable_id"}),
		lmLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "lm_latency_ms",
			Help:      "LM backend call duration in milliseconds",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node_type", "kind"}),
		maxIters: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "max_iters_exceeded_total",
			Help:      "Count of runs that failed by exceeding their step limit",
		}, []string{"graph"}),
		runsByState: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "runs_total",
			Help:      "Cumulative completed runs by terminal state",
		}, []string{"state"}),
	}
}

func (rm *RegistryMetrics) observeDepLatency(callableID string, d time.Duration) {
	if rm == nil {
		return
	}
	rm.depLatency.WithLabelValues(callableID).Observe(float64(d.Milliseconds()))
}

func (rm *RegistryMetrics) observeNodeTiming(nodeType, kind string, durationNs int64) {
	if rm == nil {
		return
	}
	rm.lmLatency.WithLabelValues(nodeType, kind).Observe(float64(time.Duration(durationNs).Milliseconds()))
}

func (rm *RegistryMetrics) setActiveRuns(n int) {
	if rm == nil {
		return
	}
	rm.activeRuns.Set(float64(n))
}

func (rm *RegistryMetrics) setPendingGates(n int) {
	if rm == nil {
		return
	}
	rm.pendingGates.Set(float64(n))
}

func (rm *RegistryMetrics) recordTerminal(state RunState) {
	if rm == nil {
		return
	}
	rm.runsByState.WithLabelValues(string(state)).Inc()
}

func (rm *RegistryMetrics) recordMaxItersExceeded() {
	if rm == nil {
		return
	}
	rm.maxIters.WithLabelValues("default").Inc()
}
