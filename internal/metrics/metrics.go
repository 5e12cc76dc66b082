// Package metrics exposes Prometheus collectors for the market research service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerBytesTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	providerAttemptsTotal      *prometheus.CounterVec
	providerLatencySeconds     *prometheus.HistogramVec
	schemaViolationsTotal      *prometheus.CounterVec
	pipelineRunsTotal          *prometheus.CounterVec
	rateLimitRejectionsTotal   prometheus.Counter
	sinkFailuresTotal          *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of page fetches, labeled by site and status (ok or absent).",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
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
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"method", "route"},
		)

		providerAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_provider_attempts_total",
				Help: "Total number of language model calls, labeled by provider, model, and outcome.",
			},
			[]string{"provider", "model", "outcome"},
		)

		providerLatencySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analysis_provider_latency_seconds",
				Help:    "Histogram of language model call latencies, labeled by provider.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"provider"},
		)

		schemaViolationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_schema_violations_total",
				Help: "Total number of recovered analyses that broke the schema, labeled by field.",
			},
			[]string{"field"},
		)

		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Total number of analysis runs, labeled by profile and outcome.",
			},
			[]string{"profile", "outcome"},
		)

		rateLimitRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "api_rate_limit_rejections_total",
				Help: "Total number of API requests rejected by the per-client rate limiter.",
			},
		)

		sinkFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_sink_failures_total",
				Help: "Total number of best-effort sink failures, labeled by sink.",
			},
			[]string{"sink"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
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
	Init()
	return promhttp.Handler()
}

// ObserveCrawl records one fetch outcome.
func ObserveCrawl(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProviderAttempt records one language model call.
func ObserveProviderAttempt(provider, model, outcome string, duration time.Duration) {
	Init()
	providerAttemptsTotal.WithLabelValues(provider, model, outcome).Inc()
	providerLatencySeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveSchemaViolation counts a recovered analysis field that broke the schema.
func ObserveSchemaViolation(field string) {
	Init()
	schemaViolationsTotal.WithLabelValues(field).Inc()
}

// ObservePipelineRun counts a finished run.
func ObservePipelineRun(profile, outcome string) {
	Init()
	pipelineRunsTotal.WithLabelValues(profile, outcome).Inc()
}

// ObserveRateLimitRejection counts a request refused by the API limiter.
func ObserveRateLimitRejection() {
	Init()
	rateLimitRejectionsTotal.Inc()
}

// ObserveSinkFailure counts a failed cache, archive, run store, or publish call.
func ObserveSinkFailure(sink string) {
	Init()
	sinkFailuresTotal.WithLabelValues(sink).Inc()
}
