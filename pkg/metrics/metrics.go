// Package metrics provides Prometheus metrics for the Iceberg explorer.
//
// # Basic Usage
//
//	timer := metrics.NewTimer(metrics.OperationAnalyze)
//	analysis, err := aggregator.Analyze(ctx, bucket, path)
//	timer.ObserveResult(err)
//
//	metrics.ManifestsRead.WithLabelValues(metrics.ResultFailed).Inc()
//
// All collectors are registered with the default registry on package load and
// exposed by the HTTP server on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation label values.
const (
	OperationAnalyze      = "analyze"
	OperationSample       = "sample"
	OperationCompare      = "compare"
	OperationManifestTree = "manifest_tree"
	OperationDiscover     = "discover"
	OperationBrowse       = "browse"
	OperationResolve      = "resolve_metadata"
	OperationBigQuery     = "bigquery_search"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

var (
	// OperationsTotal counts core operations by outcome.
	// Labels: operation, status
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iceberg_explorer_operations_total",
			Help: "Total number of explorer operations",
		},
		[]string{"operation", "status"},
	)

	// OperationDuration tracks how long operations take, storage round trips included.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "iceberg_explorer_operation_duration_seconds",
			Help: "Duration of explorer operations in seconds",
			Buckets: []float64{
				0.01, // metadata-only reads
				0.05,
				0.1,
				0.5,
				1,
				5, // long snapshot histories
				15,
				60,
			},
		},
		[]string{"operation"},
	)

	// ManifestsRead counts manifest and manifest-list reads by result.
	ManifestsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iceberg_explorer_manifests_read_total",
			Help: "Manifest and manifest list reads by result",
		},
		[]string{"result"},
	)

	// ContainerDecodes counts binary container decodes by the strategy that produced records.
	ContainerDecodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iceberg_explorer_container_decodes_total",
			Help: "Binary container decodes by strategy",
		},
		[]string{"strategy"},
	)

	// SampleFilesRead counts data file open attempts made by the sample reader.
	SampleFilesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iceberg_explorer_sample_files_read_total",
			Help: "Data files opened for sampling by result",
		},
		[]string{"result"},
	)

	// StorageRetries counts retried storage calls.
	StorageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iceberg_explorer_storage_retries_total",
			Help: "Storage calls retried after a retryable error",
		},
		[]string{"operation"},
	)

	// HTTPRequests counts API requests by route template and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iceberg_explorer_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// Timer measures one operation and records it on completion.
type Timer struct {
	operation string
	start     time.Time
}

// NewTimer starts timing operation.
func NewTimer(operation string) *Timer {
	return &Timer{operation: operation, start: time.Now()}
}

// ObserveResult records the duration and the outcome derived from err.
func (t *Timer) ObserveResult(err error) time.Duration {
	elapsed := time.Since(t.start)
	OperationDuration.WithLabelValues(t.operation).Observe(elapsed.Seconds())
	OperationsTotal.WithLabelValues(t.operation, status(err)).Inc()
	return elapsed
}

func status(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultSuccess
}
