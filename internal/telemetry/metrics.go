package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_submitted_total", Help: "Jobs recorded and enqueued"})
	JobsRejected      = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_rejected_total", Help: "Submissions rejected by validation"})
	DeliveryGaps      = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_delivery_gap_total", Help: "Jobs recorded whose enqueue failed"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_rate_limited_total", Help: "Submissions rejected by the rate limiter"})
	WorkerSuccess     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_succeeded_total", Help: "Deliveries that finished SUCCEEDED"})
	WorkerFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_failed_total", Help: "Deliveries that finished FAILED and were nacked"})
	WorkerDeadLetter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_dead_lettered_total", Help: "Messages routed to the DLQ by the worker"})
	WorkerDropped     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_dropped_total", Help: "Messages acked because their record is gone"})
	RecordsPurged     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_purged_total", Help: "Expired job records removed by the sweep"})
	ArchiveFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_archive_failures_total", Help: "Result archive writes that failed"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "report_jobs_queue_depth", Help: "Messages ready for delivery"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "report_jobs_inflight", Help: "Messages currently being processed"})
	ProcessingSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_jobs_processing_seconds",
		Help:    "Time from receive to ack/nack",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsRejected,
			DeliveryGaps,
			RateLimitRejects,
			WorkerSuccess,
			WorkerFailures,
			WorkerDeadLetter,
			WorkerDropped,
			RecordsPurged,
			ArchiveFailures,
			QueueDepthGauge,
			InFlightGauge,
			ProcessingSeconds,
		)
	})
	return promhttp.Handler()
}
