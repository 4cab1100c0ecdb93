package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scanOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatescan_scan_outcomes_total",
			Help: "Submitted ticket verifications by outcome status",
		},
		[]string{"status", "synthetic"},
	)

	scanAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatescan_scan_attempts_total",
			Help: "Extraction cycles by result",
		},
		[]string{"result"},
	)

	ticksDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatescan_ticks_dropped_total",
			Help: "Extraction ticks dropped by the reentrancy guard",
		},
	)

	submissionSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatescan_submission_duration_seconds",
			Help:    "Round-trip time of verification requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatescan_http_requests_total",
			Help: "Local API requests by method and status code",
		},
		[]string{"method", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatescan_http_request_duration_seconds",
			Help:    "Local API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// ScanOutcome counts one submitted verification.
func ScanOutcome(status string, synthetic bool) {
	scanOutcomes.WithLabelValues(status, strconv.FormatBool(synthetic)).Inc()
}

// Attempt counts one extraction cycle result.
func Attempt(result string) {
	scanAttempts.WithLabelValues(result).Inc()
}

// TickDropped counts a tick suppressed while the workflow was busy.
func TickDropped() {
	ticksDropped.Inc()
}

// SubmissionDuration observes one verification round trip.
func SubmissionDuration(d time.Duration) {
	submissionSeconds.Observe(d.Seconds())
}

// ObserveHTTP records one local API request.
func ObserveHTTP(method string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
