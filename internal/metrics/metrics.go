// Package metrics provides Prometheus metrics for the cross-file validator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the validator.
type Metrics struct {
	// Shared store
	FactMerges        *prometheus.CounterVec
	FactMergeDuration *prometheus.HistogramVec
	FactReads         *prometheus.CounterVec
	LockWait          prometheus.Histogram
	JobCleanups       *prometheus.CounterVec

	// Artifacts
	ArtifactOps          *prometheus.CounterVec
	ArtifactBytesWritten prometheus.Counter

	// Pipeline
	FilesProcessed *prometheus.CounterVec
	ReportEntries  *prometheus.CounterVec
	RetryAttempts  *prometheus.CounterVec
	JobsInFlight   prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address" validate:"required_if=Enabled true"` // e.g. ":9090"
}

var defaultMetrics *Metrics

// Init registers the metrics with the default Prometheus registry and makes
// them available through Get. Call this once at startup.
func Init(namespace string) *Metrics {
	defaultMetrics = New(namespace, prometheus.DefaultRegisterer)
	return defaultMetrics
}

// New creates the metrics and registers them with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "crossfile_validator"
	}
	factory := promauto.With(reg)

	return &Metrics{
		FactMerges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fact_merges_total",
				Help:      "Total number of fact table merges",
			},
			[]string{"table", "result"},
		),
		FactMergeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fact_merge_duration_seconds",
				Help:      "Time to merge a partial fact set, lock wait included",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
			},
			[]string{"table"},
		),
		FactReads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fact_reads_total",
				Help:      "Total number of fact table reads",
			},
			[]string{"table", "hit"},
		),
		LockWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_lock_wait_seconds",
				Help:      "Time spent waiting for the per-job lock",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
			},
		),
		JobCleanups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_cleanups_total",
				Help:      "Total number of job cleanups",
			},
			[]string{"result"},
		),
		ArtifactOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_ops_total",
				Help:      "Total number of temporary artifact operations",
			},
			[]string{"op", "result"},
		),
		ArtifactBytesWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_written_bytes",
				Help:      "Bytes written to temporary artifacts after compression and encryption",
			},
		),
		FilesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_processed_total",
				Help:      "Total number of dataset files processed",
			},
			[]string{"kind", "result"},
		),
		ReportEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_entries_total",
				Help:      "Total number of validation report entries",
			},
			[]string{"code", "severity"},
		),
		RetryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		JobsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_in_flight",
				Help:      "Number of validation jobs currently running",
			},
		),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// ResultLabel maps an error to a result label value.
func ResultLabel(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// ObserveMerge records one merge of a fact table.
func (m *Metrics) ObserveMerge(table string, seconds float64, err error) {
	m.FactMerges.WithLabelValues(table, ResultLabel(err)).Inc()
	m.FactMergeDuration.WithLabelValues(table).Observe(seconds)
}

// IncFactReads counts a fact table read. hit reports whether the table
// existed.
func (m *Metrics) IncFactReads(table string, hit bool) {
	label := "false"
	if hit {
		label = "true"
	}
	m.FactReads.WithLabelValues(table, label).Inc()
}

// ObserveLockWait records the time spent acquiring a job lock.
func (m *Metrics) ObserveLockWait(seconds float64) {
	m.LockWait.Observe(seconds)
}

// IncJobCleanups counts a job cleanup.
func (m *Metrics) IncJobCleanups(err error) {
	m.JobCleanups.WithLabelValues(ResultLabel(err)).Inc()
}

// IncArtifactOps counts an artifact operation.
func (m *Metrics) IncArtifactOps(op string, err error) {
	m.ArtifactOps.WithLabelValues(op, ResultLabel(err)).Inc()
}

// AddArtifactBytes adds to the artifact bytes counter.
func (m *Metrics) AddArtifactBytes(n int) {
	m.ArtifactBytesWritten.Add(float64(n))
}

// IncFilesProcessed counts one processed file. kind is "common" or "line".
func (m *Metrics) IncFilesProcessed(kind string, err error) {
	m.FilesProcessed.WithLabelValues(kind, ResultLabel(err)).Inc()
}

// IncReportEntries counts one report entry.
func (m *Metrics) IncReportEntries(code, severity string) {
	m.ReportEntries.WithLabelValues(code, severity).Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(operation string) {
	m.RetryAttempts.WithLabelValues(operation).Inc()
}

// JobStarted and JobFinished track jobs in flight.
func (m *Metrics) JobStarted()  { m.JobsInFlight.Inc() }
func (m *Metrics) JobFinished() { m.JobsInFlight.Dec() }
