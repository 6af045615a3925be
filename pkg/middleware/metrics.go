// Package middleware provides reusable HTTP middleware for request IDs,
// Prometheus metrics, timeouts, per-client rate limiting and CORS.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/metrics"
)

// Metrics records request count, latency and in-flight requests per route.
// A nil m disables recording.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := routeLabel(r.URL.Path, sw.status)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// routeLabel keeps label cardinality bounded. Record paths collapse to their
// pattern and other 404s are labelled "unmatched".
func routeLabel(path string, status int) string {
	const records = "/api/v1/records/"
	switch {
	case strings.HasPrefix(path, records) && len(path) > len(records):
		return records + "{collection}/{key}"
	case status == http.StatusNotFound && !strings.HasPrefix(path, "/health"):
		return "unmatched"
	}
	return path
}
