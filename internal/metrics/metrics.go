// Package metrics collects prometheus counters for one indexing run and can
// write them in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logicindex"

// Recorder owns a private registry so runs never share state.
type Recorder struct {
	reg *prometheus.Registry

	apiCalls       *prometheus.CounterVec
	filesScanned   prometheus.Counter
	filesProcessed prometheus.Counter
	filesFailed    prometheus.Counter
	summarized     prometheus.Counter
	pending        prometheus.Gauge
	breakerTrips   prometheus.Counter
	runDuration    prometheus.Gauge
}

// New returns a recorder with every metric registered at zero.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		apiCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_calls_total",
			Help:      "Summarization attempts by outcome.",
		}, []string{"outcome"}),
		filesScanned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_scanned_total",
			Help:      "Source files discovered.",
		}),
		filesProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Files whose dirty symbols were sent for summarization.",
		}),
		filesFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_failed_total",
			Help:      "Files skipped because they could not be read or parsed.",
		}),
		summarized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbols_summarized_total",
			Help:      "Symbols that received a generated summary.",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "symbols_pending",
			Help:      "Symbols left without a summary at the end of the run.",
		}),
		breakerTrips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_trips_total",
			Help:      "Times the circuit breaker opened.",
		}),
		runDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}
}

// Registry exposes the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// ObserveCall counts one summarization attempt. It matches llm.Options.Observe.
func (r *Recorder) ObserveCall(outcome string) {
	r.apiCalls.WithLabelValues(outcome).Inc()
}

// Run holds the totals of a finished run.
type Run struct {
	FilesScanned   int
	FilesProcessed int
	FilesFailed    int
	Summarized     int
	Pending        int
	BreakerTripped bool
	Duration       time.Duration
}

// RecordRun adds the totals of a finished run.
func (r *Recorder) RecordRun(run Run) {
	r.filesScanned.Add(float64(run.FilesScanned))
	r.filesProcessed.Add(float64(run.FilesProcessed))
	r.filesFailed.Add(float64(run.FilesFailed))
	r.summarized.Add(float64(run.Summarized))
	r.pending.Set(float64(run.Pending))
	if run.BreakerTripped {
		r.breakerTrips.Inc()
	}
	r.runDuration.Set(run.Duration.Seconds())
}

// WriteFile writes every metric to path in textfile format.
func (r *Recorder) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
