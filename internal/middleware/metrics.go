package middleware

import (
	"net/http"
	"time"

	"gatescan/internal/monitoring"
)

// MetricsMiddleware records per-request counters and latency into the
// Prometheus registry exposed on /metrics.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		monitoring.ObserveHTTP(r.Method, wrapped.statusCode, time.Since(start))
	})
}
