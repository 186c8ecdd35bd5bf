// Package metrics holds the Prometheus collectors the engine updates while a
// workflow runs.
//
// Metrics exposed (all namespaced with "taskflow_"):
//
//   - nodes_inflight (gauge): nodes currently executing.
//   - nodes_pending (gauge): nodes waiting on parents, including blocked ones.
//   - node_duration_seconds (histogram): task execution time by kind and status.
//   - nodes_total (counter): finished nodes by kind and status.
//   - detour_nodes_total (counter): nodes spliced in by detours, by origin kind.
//   - merge_conflicts_total (counter): actions rejected because a merge hit a non-object.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskflow"

// Status label values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// Metrics is the set of engine collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	inflight       prometheus.Gauge
	pending        prometheus.Gauge
	duration       *prometheus.HistogramVec
	nodes          *prometheus.CounterVec
	detourNodes    *prometheus.CounterVec
	mergeConflicts prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_inflight",
			Help:      "Number of nodes currently executing",
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_pending",
			Help:      "Number of nodes waiting for their parents",
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60},
		}, []string{"kind", "status"}),
		nodes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_total",
			Help:      "Nodes that reached a terminal status",
		}, []string{"kind", "status"}),
		detourNodes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detour_nodes_total",
			Help:      "Nodes inserted by detours, labelled by the kind of the originating node",
		}, []string{"kind"}),
		mergeConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_conflicts_total",
			Help:      "Actions rejected because a merge descended into a non-object value",
		}),
	}
}

// NodeStarted increments the inflight gauge.
func (m *Metrics) NodeStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// NodeFinished decrements the inflight gauge and records the outcome.
func (m *Metrics) NodeFinished(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.duration.WithLabelValues(kind, status).Observe(d.Seconds())
	m.nodes.WithLabelValues(kind, status).Inc()
}

// DetourSpliced records n nodes added by a node of the given kind.
func (m *Metrics) DetourSpliced(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.detourNodes.WithLabelValues(kind).Add(float64(n))
}

// MergeConflict counts one rejected action.
func (m *Metrics) MergeConflict() {
	if m == nil {
		return
	}
	m.mergeConflicts.Inc()
}

// SetPending sets the pending gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
