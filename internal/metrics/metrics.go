// Package metrics exposes Prometheus collectors for the price search service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var browserStates = []string{"unstarted", "launching", "ready", "closed"}

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	browserState               *prometheus.GaugeVec
	browserLaunchesTotal       *prometheus.CounterVec
	browserLaunchSeconds       prometheus.Histogram
	upstreamFetchesTotal       *prometheus.CounterVec
	upstreamBytesTotal         *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		)

		browserState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "medprice_browser_state",
				Help: "Lifecycle state of the shared browser; the current state reads 1.",
			},
			[]string{"state"},
		)

		browserLaunchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medprice_browser_launches_total",
				Help: "Browser launches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		browserLaunchSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "medprice_browser_launch_duration_seconds",
				Help:    "Time taken to start the shared browser.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		upstreamFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medprice_upstream_fetches_total",
				Help: "Plain HTTP fetches against upstream APIs, labeled by host and status.",
			},
			[]string{"site", "status"},
		)

		upstreamBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medprice_upstream_bytes_total",
				Help: "Bytes fetched from upstream APIs, labeled by host.",
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medprice_rate_limit_delays_seconds",
				Help:    "Histogram of per-source politeness waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
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
	return promhttp.Handler()
}

// Middleware records request counts and latencies keyed by the chi route
// pattern so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		ObserveHTTPRequest(r.Method, route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetBrowserState marks state as the current browser state.
func SetBrowserState(state string) {
	Init()
	for _, s := range browserStates {
		v := 0.0
		if s == state {
			v = 1
		}
		browserState.WithLabelValues(s).Set(v)
	}
}

// ObserveBrowserLaunch records one launch attempt.
func ObserveBrowserLaunch(outcome string, duration time.Duration) {
	Init()
	browserLaunchesTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		browserLaunchSeconds.Observe(duration.Seconds())
	}
}

// ObserveFetch counts one upstream HTTP fetch.
func ObserveFetch(rawURL string, status int, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	upstreamFetchesTotal.WithLabelValues(site, label).Inc()
	if bytesFetched > 0 {
		upstreamBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(duration.Seconds())
}
