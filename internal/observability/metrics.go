package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// unification pipeline.
type Metrics struct {
	FilesProcessed  prometheus.Counter
	FilesCorrupted  prometheus.Counter
	FilesSkipped    prometheus.Counter
	GroupsMissing   prometheus.Counter
	BatchesEmpty    prometheus.Counter
	WritesOK        prometheus.Counter
	WritesFailed    prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Per-stage timing.
	FileDuration  prometheus.Histogram
	WriteDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geounify",
			Name:      "files_processed_total",
			Help:      "Source files successfully parsed, filtered, and regridded.",
		}),
		FilesCorrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geounify",
			Name:      "files_corrupted_total",
			Help:      "Source files skipped as structurally corrupted.",
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geounify",
			Name:      "files_skipped_total",
			Help:      "Source files skipped for reasons other than corruption.",
		}),
		GroupsMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geounify",
			Name:      "groups_missing_total",
			Help:      "Level groups absent from their source files.",
		}),
		BatchesEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geounify",
			Name:      "batches_empty_total",
			Help:      "Grouping keys that produced no usable output.",
		}),
		WritesOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geounify",
			Name:      "writes_ok_total",
			Help:      "Unified dataset files published.",
		}),
		WritesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geounify",
			Name:      "writes_failed_total",
			Help:      "Unified dataset writes that failed.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geounify",
			Name:      "pipeline_running",
			Help:      "1 when a run is active, 0 otherwise.",
		}),
		FileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geounify",
			Name:      "file_duration_seconds",
			Help:      "Duration of one file's parse-filter-regrid cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geounify",
			Name:      "write_duration_seconds",
			Help:      "Duration of one unified dataset write.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	prometheus.MustRegister(
		m.FilesProcessed,
		m.FilesCorrupted,
		m.FilesSkipped,
		m.GroupsMissing,
		m.BatchesEmpty,
		m.WritesOK,
		m.WritesFailed,
		m.PipelineRunning,
		m.FileDuration,
		m.WriteDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with unregistered collectors to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FilesProcessed:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "geounify", Name: "files_processed_total"}),
		FilesCorrupted:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "geounify", Name: "files_corrupted_total"}),
		FilesSkipped:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "geounify", Name: "files_skipped_total"}),
		GroupsMissing:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "geounify", Name: "groups_missing_total"}),
		BatchesEmpty:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "geounify", Name: "batches_empty_total"}),
		WritesOK:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "geounify", Name: "writes_ok_total"}),
		WritesFailed:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "geounify", Name: "writes_failed_total"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "geounify", Name: "pipeline_running"}),
		FileDuration:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "geounify", Name: "file_duration_seconds"}),
		WriteDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "geounify", Name: "write_duration_seconds"}),
	}
}
