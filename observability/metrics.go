// Package observability records what the detection pipeline does: a SQLite
// event log for failures that must be inspectable after the fact, and
// Prometheus counters for live dashboards.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the fakezero counters on a private registry so several
// services can coexist in one process (and in tests).
type Metrics struct {
	reg *prometheus.Registry

	// Detections counts pipeline outcomes. Labels: platform, outcome
	// (counted_new, already_counted, skipped, aborted, ledger_error).
	Detections *prometheus.CounterVec

	// PipelineErrors counts swallowed failures. Labels: stage.
	PipelineErrors *prometheus.CounterVec

	// Candidates counts boundary elements handed to the scheduler.
	Candidates *prometheus.CounterVec

	// Transitions counts session state changes. Labels: to (enabled, disabled).
	Transitions *prometheus.CounterVec

	// ClassifierDropped counts classification requests shed under load.
	ClassifierDropped prometheus.Counter
}

// NewMetrics registers the counters on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Detections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fakezero",
			Name:      "detections_total",
			Help:      "Pipeline outcomes per platform",
		}, []string{"platform", "outcome"}),
		PipelineErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fakezero",
			Name:      "pipeline_errors_total",
			Help:      "Non-fatal pipeline failures by stage",
		}, []string{"stage"}),
		Candidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fakezero",
			Name:      "candidates_registered_total",
			Help:      "Post boundaries registered for visibility observation",
		}, []string{"platform"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fakezero",
			Name:      "session_transitions_total",
			Help:      "Session state transitions",
		}, []string{"to"}),
		ClassifierDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fakezero",
			Name:      "classifier_dropped_total",
			Help:      "Classification requests dropped because all workers were busy",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
