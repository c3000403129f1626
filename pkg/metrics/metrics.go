// Package metrics instruments the analyzer with Prometheus counters and
// histograms, registered on a dedicated registry (never the global
// default) so the package stays safe to import from a library context.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/galpt/tunnelstats/pkg/types"
)

// Metrics holds every instrument this package exposes, all registered on
// their own Registry.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal      prometheus.Counter
	RunErrorsTotal *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	EventsParsed   *prometheus.CounterVec
	FlowsObserved  prometheus.Gauge
}

// New constructs Metrics and registers every instrument.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunnelstats_runs_total",
			Help: "Total analysis runs completed, successful or not.",
		}),
		RunErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnelstats_run_errors_total",
			Help: "Total analysis runs that failed, by error kind.",
		}, []string{"kind"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunnelstats_run_duration_seconds",
			Help:    "Wall-clock time of a full parse-accumulate-reduce-assemble pipeline run.",
			Buckets: prometheus.DefBuckets,
		}),
		EventsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnelstats_events_parsed_total",
			Help: "Total tunnel-log events parsed, by kind.",
		}, []string{"kind"}),
		FlowsObserved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tunnelstats_flows_observed",
			Help: "Number of distinct flows seen in the most recent run.",
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunErrorsTotal,
		m.RunDuration,
		m.EventsParsed,
		m.FlowsObserved,
	)
	return m
}

// ErrorKind names for RunErrorsTotal's "kind" label, matching the three
// fatal error kinds a run can fail with.
const (
	KindMalformedLine = "MalformedLine"
	KindNegativeBin   = "NegativeBin"
	KindIOError       = "IOError"
)

// ObserveEvent increments EventsParsed for one event kind.
func (m *Metrics) ObserveEvent(kind types.EventKind) {
	m.EventsParsed.WithLabelValues(kind.String()).Inc()
}

// ObserveRun records the outcome of one run: duration always, flow count
// on success, and an error-kind increment on failure (errKind == "" means
// success).
func (m *Metrics) ObserveRun(durationSeconds float64, flowCount int, errKind string) {
	m.RunsTotal.Inc()
	m.RunDuration.Observe(durationSeconds)
	if errKind != "" {
		m.RunErrorsTotal.WithLabelValues(errKind).Inc()
		return
	}
	m.FlowsObserved.Set(float64(flowCount))
}
