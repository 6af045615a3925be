// Package metrics defines the Prometheus metric collectors used by the
// indexer and searcher and exposes an HTTP handler for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the platform. A nil *Metrics is
// valid everywhere it is accepted and records nothing.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IndexOperationsTotal *prometheus.CounterVec
	IndexTasksTotal      *prometheus.CounterVec
	IndexTaskDuration    *prometheus.HistogramVec
	TermsPerRecord       prometheus.Histogram
	WriteConflictsTotal  *prometheus.CounterVec
	ConsistencyWarnings  *prometheus.CounterVec
	LookupFailuresTotal  prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in binaries and prometheus.NewRegistry() in
// tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, miss, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of ranked owners returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		IndexOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_operations_total",
				Help: "Index and unindex calls by operation and mode (immediate, deferred).",
			},
			[]string{"operation", "mode"},
		),
		IndexTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_tasks_total",
				Help: "Deferred reindex tasks executed by queue and status.",
			},
			[]string{"queue", "status"},
		),
		IndexTaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_task_duration_seconds",
				Help:    "Time spent applying a reindex task.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		TermsPerRecord: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "terms_per_record",
				Help:    "Number of index records written per reindexed owner.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		WriteConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "write_conflicts_total",
				Help: "Optimistic concurrency conflicts that triggered a retry.",
			},
			[]string{"operation"},
		),
		ConsistencyWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consistency_warnings_total",
				Help: "Drift detected between index records and global counters.",
			},
			[]string{"kind"},
		),
		LookupFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lookup_failures_total",
				Help: "Matched index records whose global counter was missing at search time.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IndexOperationsTotal,
		m.IndexTasksTotal,
		m.IndexTaskDuration,
		m.TermsPerRecord,
		m.WriteConflictsTotal,
		m.ConsistencyWarnings,
		m.LookupFailuresTotal,
		m.CircuitBreakerState,
	)

	return m
}
