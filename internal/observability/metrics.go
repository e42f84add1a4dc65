package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms and gauges for the batch
// and acquisition stages.
type Metrics struct {
	// Batch orchestrator.
	FilesDiscovered     prometheus.Counter
	FilesSucceeded      prometheus.Counter
	FilesFailed         prometheus.Counter
	IntegrationDuration prometheus.Histogram
	WorkersBusy         prometheus.Gauge

	// Acquisition stage.
	FetchAttempts     prometheus.Counter
	PartitionsFetched prometheus.Counter
	PartitionsFailed  prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FilesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ivt",
			Name:      "files_discovered_total",
			Help:      "Input files found in the input directory.",
		}),
		FilesSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ivt",
			Name:      "files_succeeded_total",
			Help:      "Input files integrated and written.",
		}),
		FilesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ivt",
			Name:      "files_failed_total",
			Help:      "Input files skipped because integration failed.",
		}),
		IntegrationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ivt",
			Name:      "integration_duration_seconds",
			Help:      "Time to integrate one file, read and write included.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ivt",
			Name:      "workers_busy",
			Help:      "Workers currently integrating a file.",
		}),
		FetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ivt",
			Name:      "fetch_attempts_total",
			Help:      "Archive requests issued, retries included.",
		}),
		PartitionsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ivt",
			Name:      "partitions_fetched_total",
			Help:      "Time partitions downloaded.",
		}),
		PartitionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ivt",
			Name:      "partitions_failed_total",
			Help:      "Time partitions given up on after all attempts.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FilesDiscovered,
			m.FilesSucceeded,
			m.FilesFailed,
			m.IntegrationDuration,
			m.WorkersBusy,
			m.FetchAttempts,
			m.PartitionsFetched,
			m.PartitionsFailed,
		)
	}
	return m
}

// WriteTextfile writes everything gathered by g to path in the Prometheus
// text format, for the node exporter textfile collector. An empty path is a
// no-op.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, g)
}
