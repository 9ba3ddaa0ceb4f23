// Package telemetry exports the progress of annealing runs as Prometheus
// metrics.
//
// A Recorder is an annealing.Observer: the scheduler hands it a snapshot at
// every progress check and once when the run stops. Metrics are registered
// on a caller-supplied registry so several runs, or tests, never collide on
// the default one. Batch jobs without a scrape endpoint can dump the
// registry with WriteTextfile for the node exporter textfile collector.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gykovacs/vessel-sub007/pkg/annealing"
)

const (
	metricsNamespace = "vesselseg"
	annealSubsystem  = "annealing"
)

// Recorder holds the metrics of one annealing run.
type Recorder struct {
	// Iterations is the number of proposals made so far.
	Iterations prometheus.Gauge

	// Accepted and Rejected split the proposals by outcome.
	Accepted prometheus.Gauge
	Rejected prometheus.Gauge

	// Objective is the energy of the current labelling.
	Objective prometheus.Gauge

	// Temperature is the current annealing temperature.
	Temperature prometheus.Gauge

	// ChecksTotal counts progress checks.
	ChecksTotal prometheus.Counter

	// RunsTotal counts finished runs by stop reason.
	// Labels: reason (converged, temperature-floor, max-iterations)
	RunsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewRecorder registers the run metrics on reg. runID, when not empty, is
// attached to every metric as the run_id label.
func NewRecorder(reg *prometheus.Registry, runID string) *Recorder {
	var labels prometheus.Labels
	if runID != "" {
		labels = prometheus.Labels{"run_id": runID}
	}
	f := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   annealSubsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	return &Recorder{
		Iterations:  gauge("iterations", "Proposals made by the current run"),
		Accepted:    gauge("accepted_moves", "Accepted moves of the current run"),
		Rejected:    gauge("rejected_moves", "Rejected moves of the current run"),
		Objective:   gauge("objective", "Energy of the current labelling"),
		Temperature: gauge("temperature", "Current annealing temperature"),
		ChecksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   annealSubsystem,
			Name:        "checks_total",
			Help:        "Progress checks taken",
			ConstLabels: labels,
		}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   annealSubsystem,
			Name:        "runs_total",
			Help:        "Finished runs by stop reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		gatherer: reg,
	}
}

// Observe implements annealing.Observer.
func (r *Recorder) Observe(p annealing.Progress) {
	r.Iterations.Set(float64(p.Iteration))
	r.Accepted.Set(float64(p.Accepted))
	r.Rejected.Set(float64(p.Rejected))
	r.Objective.Set(p.Objective)
	r.Temperature.Set(p.Temperature)
	if p.Reason == annealing.StopNone {
		r.ChecksTotal.Inc()
		return
	}
	r.RunsTotal.WithLabelValues(p.Reason.String()).Inc()
}

// WriteTextfile writes every metric of the registry to path in the
// Prometheus text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.gatherer); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
