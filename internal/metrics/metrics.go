// Package metrics records publish outcomes as Prometheus metrics and can
// export them to a node_exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// Recorder holds the publisher's collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry       *prometheus.Registry
	outcomes       *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec
	candidates     prometheus.Gauge
	lastRun        prometheus.Gauge
}

// New creates a Recorder backed by its own registry.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}
	r.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sourcemap",
		Subsystem: "publisher",
		Name:      "outcomes_total",
		Help:      "Number of sourcemap candidates by publish outcome",
	}, []string{"outcome"})
	r.uploadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sourcemap",
		Subsystem: "publisher",
		Name:      "upload_duration_seconds",
		Help:      "Latency distribution of sourcemap uploads",
		Buckets:   histogramBuckets,
	}, []string{"outcome"})
	r.candidates = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sourcemap",
		Subsystem: "publisher",
		Name:      "candidates",
		Help:      "Map files discovered by the last run",
	})
	r.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sourcemap",
		Subsystem: "publisher",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run completed",
	})
	r.registry.MustRegister(r.outcomes, r.uploadDuration, r.candidates, r.lastRun)
	return r
}

// ObserveOutcome counts one candidate outcome. Uploads that reached the remote
// service also record their latency; pass a zero duration otherwise.
func (r *Recorder) ObserveOutcome(outcome string, took time.Duration) {
	if r == nil {
		return
	}
	labels := prometheus.Labels{"outcome": outcome}
	r.outcomes.With(labels).Inc()
	if took > 0 {
		r.uploadDuration.With(labels).Observe(took.Seconds())
	}
}

// ObserveRun records the candidate count and completion time of a run.
func (r *Recorder) ObserveRun(candidates int, finished time.Time) {
	if r == nil {
		return
	}
	r.candidates.Set(float64(candidates))
	r.lastRun.Set(float64(finished.Unix()))
}

// Gatherer returns the backing registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// WriteTextfile writes the current metrics in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
