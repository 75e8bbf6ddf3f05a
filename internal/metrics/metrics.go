// Package metrics exposes Prometheus collectors for the scraper.
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
	scraperItemsTotal            *prometheus.CounterVec
	scraperRequestsTotal         *prometheus.CounterVec
	scraperRetriesTotal          prometheus.Counter
	scraperRateLimitDelaySeconds prometheus.Histogram
	scraperPhaseDurationSeconds  *prometheus.HistogramVec
	serverRequestsTotal          *prometheus.CounterVec
	serverRequestDuration        *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_items_total",
				Help: "Catalog items processed, labeled by phase and outcome.",
			},
			[]string{"phase", "status"},
		)

		scraperRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_requests_total",
				Help: "Outbound requests issued, labeled by host.",
			},
			[]string{"host"},
		)

		scraperRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_retries_total",
				Help: "Total retry attempts scheduled after a failure.",
			},
		)

		scraperRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delay_seconds",
				Help:    "Histogram of rate limiter wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10},
			},
		)

		scraperPhaseDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_phase_duration_seconds",
				Help:    "Wall time spent per phase.",
				Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
			},
			[]string{"phase"},
		)

		serverRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_server_requests_total",
				Help: "Requests served by the metrics server.",
			},
			[]string{"method", "route", "code"},
		)

		serverRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_server_request_duration_seconds",
				Help:    "Latency of metrics server requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from rawURL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
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

// ObserveItem counts one processed catalog item.
func ObserveItem(phase, status string) {
	Init()
	scraperItemsTotal.WithLabelValues(phase, status).Inc()
}

// ObserveRequest counts one outbound request to rawURL's host.
func ObserveRequest(rawURL string) {
	Init()
	scraperRequestsTotal.WithLabelValues(SanitizeHost(rawURL)).Inc()
}

// ObserveRetry counts one scheduled retry.
func ObserveRetry() {
	Init()
	scraperRetriesTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limiter wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	scraperRateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObservePhaseDuration records how long a phase ran.
func ObservePhaseDuration(phase string, duration time.Duration) {
	Init()
	scraperPhaseDurationSeconds.WithLabelValues(phase).Observe(duration.Seconds())
}
