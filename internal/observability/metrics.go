package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storm_pc"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// phase correction service.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	CorrectionErrors prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Engine metrics.
	Runs           *prometheus.CounterVec // labels: status={corrected,no_correction}
	Blocks         *prometheus.CounterVec // labels: outcome={corrected,uncorrected,skipped}
	EngineDuration prometheus.Histogram
	WorkerPoolSize prometheus.Gauge

	// Grid server metrics.
	GridRequests      *prometheus.CounterVec   // labels: kind, outcome={success,error,not_found}
	GridCache         *prometheus.CounterVec   // labels: result={hit,miss}
	GridFetchDuration *prometheus.HistogramVec // labels: kind
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total correction requests read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total correction results written to the sink topic.",
		}),
		CorrectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correction_errors_total",
			Help:      "Total requests that could not be corrected.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of requests per batch extracted from Kafka.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-correct-load cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Engine runs by terminal status.",
		}, []string{"status"}),
		Blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Searched blocks by outcome.",
		}, []string{"outcome"}),
		EngineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_duration_seconds",
			Help:      "Duration of one motion estimation and correction run.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		WorkerPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_size",
			Help:      "Number of block search workers.",
		}),
		GridRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_requests_total",
			Help:      "Grid server requests by grid kind and outcome.",
		}, []string{"kind", "outcome"}),
		GridCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_cache_total",
			Help:      "Grid cache lookups by result.",
		}, []string{"result"}),
		GridFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grid_fetch_duration_seconds",
			Help:      "Grid server request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind"}),
	}

	prometheus.MustRegister(
		m.MessagesConsumed,
		m.MessagesProduced,
		m.CorrectionErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.Runs,
		m.Blocks,
		m.EngineDuration,
		m.WorkerPoolSize,
		m.GridRequests,
		m.GridCache,
		m.GridFetchDuration,
	)

	return m
}

// RegisterQueueDepth exposes the block search queue depth, read on scrape.
func RegisterQueueDepth(depth func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queue_depth",
		Help:      "Block searches waiting for a worker.",
	}, func() float64 { return float64(depth()) }))
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		MessagesConsumed:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "messages_consumed_total"}),
		MessagesProduced:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "messages_produced_total"}),
		CorrectionErrors:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "correction_errors_total"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_processing_duration_seconds"}),
		Runs:                    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "runs_total"}, []string{"status"}),
		Blocks:                  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "blocks_total"}, []string{"outcome"}),
		EngineDuration:          prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "engine_duration_seconds"}),
		WorkerPoolSize:          prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "worker_pool_size"}),
		GridRequests:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "grid_requests_total"}, []string{"kind", "outcome"}),
		GridCache:               prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "grid_cache_total"}, []string{"result"}),
		GridFetchDuration:       prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "grid_fetch_duration_seconds"}, []string{"kind"}),
	}
}
