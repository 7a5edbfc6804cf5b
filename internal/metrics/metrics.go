// Package metrics exposes Prometheus collectors for the orchestration
// service.
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
	dispatchesTotal            *prometheus.CounterVec
	webhookEventsTotal         *prometheus.CounterVec
	sessionTransitionsTotal    *prometheus.CounterVec
	reconcileVerdictsTotal     *prometheus.CounterVec
	datasetFetchSeconds        prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		dispatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapewatch_dispatches_total",
				Help: "Total scrape job submissions, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		webhookEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapewatch_webhook_events_total",
				Help: "Total runner webhook events received, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		sessionTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapewatch_session_transitions_total",
				Help: "Total session status transitions, labeled by target status.",
			},
			[]string{"to"},
		)

		reconcileVerdictsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapewatch_reconcile_verdicts_total",
				Help: "Total liveness reconciliation polls, labeled by verdict.",
			},
			[]string{"verdict"},
		)

		datasetFetchSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scrapewatch_dataset_fetch_seconds",
				Help:    "Histogram of dataset fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDispatch increments the dispatch counter.
func ObserveDispatch(platform, outcome string) {
	dispatchesTotal.WithLabelValues(platform, outcome).Inc()
}

// ObserveWebhookEvent increments the webhook event counter.
func ObserveWebhookEvent(kind, outcome string) {
	webhookEventsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveSessionTransition increments the transition counter.
func ObserveSessionTransition(to string) {
	sessionTransitionsTotal.WithLabelValues(to).Inc()
}

// ObserveReconcileVerdict increments the reconcile verdict counter.
func ObserveReconcileVerdict(verdict string) {
	reconcileVerdictsTotal.WithLabelValues(verdict).Inc()
}

// ObserveDatasetFetch records the duration of one dataset fetch.
func ObserveDatasetFetch(duration time.Duration) {
	datasetFetchSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
