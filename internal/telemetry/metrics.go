package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "ldp_jobs_submitted_total", Help: "Jobs admitted and enqueued"})
	JobsSucceeded      = prometheus.NewCounter(prometheus.CounterOpts{Name: "ldp_jobs_succeeded_total", Help: "Jobs that reached SUCCESS"})
	JobsFailed         = prometheus.NewCounter(prometheus.CounterOpts{Name: "ldp_jobs_failed_total", Help: "Jobs that reached FAILURE"})
	QuotaRejects       = prometheus.NewCounter(prometheus.CounterOpts{Name: "ldp_quota_rejects_total", Help: "Submissions rejected by the quota gate"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "ldp_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	PagesText          = prometheus.NewCounter(prometheus.CounterOpts{Name: "ldp_pages_text_total", Help: "Pages extracted via the native text layer"})
	PagesOCR           = prometheus.NewCounter(prometheus.CounterOpts{Name: "ldp_pages_ocr_total", Help: "Pages extracted via OCR"})
	StructuringRetries = prometheus.NewCounter(prometheus.CounterOpts{Name: "ldp_structuring_retries_total", Help: "Retried structuring calls"})
	QueueDepthGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ldp_queue_depth", Help: "Ready queue depth"})
	JobsInFlight       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ldp_jobs_inflight", Help: "Jobs currently being processed"})
	JobDuration        = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ldp_job_duration_seconds",
		Help:    "End-to-end processing duration per job",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsSucceeded,
			JobsFailed,
			QuotaRejects,
			RateLimitRejects,
			PagesText,
			PagesOCR,
			StructuringRetries,
			QueueDepthGauge,
			JobsInFlight,
			JobDuration,
		)
	})
	return promhttp.Handler()
}
