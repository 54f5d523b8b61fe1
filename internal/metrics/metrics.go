// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	postsDiscoveredTotal    *prometheus.CounterVec
	postsDeliveredTotal     *prometheus.CounterVec
	crawlCyclesTotal        *prometheus.CounterVec
	activeWorkflows         prometheus.Gauge
	jobsTotal               *prometheus.CounterVec
	deliveryDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		postsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipfox_posts_discovered_total",
				Help: "Posts that passed classification and dedup, labeled by group host.",
			},
			[]string{"group"},
		)

		postsDeliveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipfox_posts_delivered_total",
				Help: "Webhook delivery attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipfox_crawl_cycles_total",
				Help: "Scroll cycles executed, labeled by group host.",
			},
			[]string{"group"},
		)

		activeWorkflows = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipfox_active_workflows",
				Help: "Workflows currently registered as running.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipfox_jobs_total",
				Help: "Intake jobs processed, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		deliveryDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipfox_delivery_duration_seconds",
				Help:    "Histogram of webhook POST latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)
	})
}

// SanitizeGroup reduces a group URL to a lowercase hostname label.
// It returns "unknown" for unparseable URLs.
func SanitizeGroup(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePostDiscovered counts one newly fingerprinted post.
func ObservePostDiscovered(groupURL string) {
	if postsDiscoveredTotal == nil {
		return
	}
	postsDiscoveredTotal.WithLabelValues(SanitizeGroup(groupURL)).Inc()
}

// ObserveDelivery counts one webhook attempt and its latency.
func ObserveDelivery(outcome string, duration time.Duration) {
	if postsDeliveredTotal == nil {
		return
	}
	postsDeliveredTotal.WithLabelValues(outcome).Inc()
	deliveryDurationSeconds.Observe(duration.Seconds())
}

// ObserveCrawlCycle counts one scroll cycle for the group.
func ObserveCrawlCycle(groupURL string) {
	if crawlCyclesTotal == nil {
		return
	}
	crawlCyclesTotal.WithLabelValues(SanitizeGroup(groupURL)).Inc()
}

// WorkflowStarted increments the active-workflow gauge.
func WorkflowStarted() {
	if activeWorkflows != nil {
		activeWorkflows.Inc()
	}
}

// WorkflowFinished decrements the active-workflow gauge.
func WorkflowFinished() {
	if activeWorkflows != nil {
		activeWorkflows.Dec()
	}
}

// ObserveJob counts one processed intake job.
func ObserveJob(kind, status string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(kind, status).Inc()
}
