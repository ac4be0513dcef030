// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlOutcomesTotal         *prometheus.CounterVec
	crawlRecordsTotal          *prometheus.CounterVec
	crawlScrollAttempts        prometheus.Histogram
	crawlDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	crawlerJobsTotal           *prometheus.CounterVec
	crawlerActiveWorkers       prometheus.Gauge
	notifyFailuresTotal        *prometheus.CounterVec
	navigationWaitSeconds      prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_crawl_outcomes_total",
				Help: "Total number of crawls, labeled by source and terminal outcome.",
			},
			[]string{"source", "outcome"},
		)

		crawlRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Total number of records accepted, labeled by source.",
			},
			[]string{"source"},
		)

		crawlScrollAttempts = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_scroll_attempts",
				Help:    "Scroll attempts consumed per crawl.",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 13},
			},
		)

		crawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_crawl_duration_seconds",
				Help:    "Histogram of crawl durations, labeled by outcome.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		notifyFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_notify_failures_total",
				Help: "Total number of failed report notifications, labeled by reason.",
			},
			[]string{"reason"},
		)

		navigationWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_navigation_wait_seconds",
				Help:    "Histogram of navigation rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCrawl records the terminal state of one crawl.
func ObserveCrawl(source, outcome string, records, attempts int, duration time.Duration) {
	Init()
	crawlOutcomesTotal.WithLabelValues(source, outcome).Inc()
	if records > 0 {
		crawlRecordsTotal.WithLabelValues(source).Add(float64(records))
	}
	crawlScrollAttempts.Observe(float64(attempts))
	crawlDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveNotifyFailure counts a notification that was not delivered.
func ObserveNotifyFailure(reason string) {
	Init()
	notifyFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveNavigationWait records how long a navigation waited on the rate limiter.
func ObserveNavigationWait(duration time.Duration) {
	Init()
	navigationWaitSeconds.Observe(duration.Seconds())
}
