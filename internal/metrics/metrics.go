// Package metrics provides Prometheus metrics for monitoring the catalog
// mirror pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worksync_fetches_total",
			Help: "Total number of catalog fetches by result",
		},
		[]string{"result"},
	)
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worksync_fetch_duration_seconds",
			Help:    "Catalog fetch duration in seconds, retries included",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"result"},
	)
	FailuresRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worksync_failures_recorded_total",
			Help: "Total number of failures written to the tracker",
		},
		[]string{"reason"},
	)
	RecoveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worksync_recoveries_total",
			Help: "Total number of previously failed works recovered",
		},
	)
	BatchFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worksync_batch_flushes_total",
			Help: "Total number of committed write batches",
		},
	)
	BatchOpsCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worksync_batch_ops_committed_total",
			Help: "Total number of operations durably committed in batches",
		},
	)
	IngestRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worksync_ingest_runs_total",
			Help: "Total number of ingestion runs by final status",
		},
		[]string{"status"},
	)
	IngestRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worksync_ingest_run_duration_seconds",
			Help:    "Ingestion run duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		},
	)
	FeedDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worksync_feed_depth",
			Help: "Current number of work IDs waiting in the feed",
		},
	)
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worksync_workers_active",
			Help: "Number of currently active fetch workers",
		},
	)
	WorksMirrored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worksync_works_mirrored",
			Help: "Number of works currently mirrored in the store",
		},
	)
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worksync_emails_sent_total",
			Help: "Total number of notification emails by kind and status",
		},
		[]string{"kind", "status"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worksync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worksync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordFetch(result string, duration time.Duration) {
	FetchesTotal.WithLabelValues(result).Inc()
	FetchDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func RecordFailureTracked(reason string) {
	FailuresRecorded.WithLabelValues(reason).Inc()
}

func RecordRecovery() {
	RecoveriesTotal.Inc()
}

func RecordBatchFlush(ops int) {
	BatchFlushesTotal.Inc()
	BatchOpsCommitted.Add(float64(ops))
}

func RecordIngestRun(status string, duration time.Duration) {
	IngestRuns.WithLabelValues(status).Inc()
	IngestRunDuration.Observe(duration.Seconds())
}

func UpdateFeedDepth(depth int64) {
	FeedDepth.Set(float64(depth))
}

func UpdateActiveWorkers(count int) {
	WorkersActive.Set(float64(count))
}

func UpdateWorksMirrored(count int) {
	WorksMirrored.Set(float64(count))
}

func RecordEmailSent(kind, status string) {
	EmailsSent.WithLabelValues(kind, status).Inc()
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
