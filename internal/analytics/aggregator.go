package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/kafka"
)

const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	Reindexed         int64        `json:"reindexed"`
	Unindexed         int64        `json:"unindexed"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	TopTerms          []QueryCount `json:"top_terms"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running totals over analytics events. Latency
// percentiles are computed over the most recent samples only.
type Aggregator struct {
	mu                sync.RWMutex
	stats             AggregatedStats
	latencies         []int64
	next              int
	queryCounts       map[string]int64
	termCounts        map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time
	logger            *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, maxLatencySamples),
		queryCounts:       make(map[string]int64),
		termCounts:        make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent feeds consumed Kafka messages into agg. Undecodable messages
// are logged and committed.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(_ context.Context, msg kafka.Message) error {
		ev, err := Decode(msg.Value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		agg.Record(ev)
		return nil
	}
}

// Record accepts a *SearchEvent or *IndexEvent (or their values).
func (a *Aggregator) Record(ev any) {
	switch e := ev.(type) {
	case *SearchEvent:
		a.recordSearch(*e)
	case SearchEvent:
		a.recordSearch(e)
	case *IndexEvent:
		a.recordIndex(*e)
	case IndexEvent:
		a.recordIndex(e)
	default:
		a.logger.Warn("ignoring unknown analytics event", "type", fmt.Sprintf("%T", ev))
	}
}

func (a *Aggregator) recordSearch(ev SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalSearches++
	if ev.CacheHit {
		a.stats.CacheHits++
	} else {
		a.stats.CacheMisses++
	}
	if ev.Returned == 0 {
		a.stats.ZeroResultCount++
		a.zeroResultQueries[ev.Query]++
	}
	a.queryCounts[ev.Query]++
	for _, t := range ev.Terms {
		a.termCounts[t]++
	}

	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, ev.LatencyMs)
	} else {
		a.latencies[a.next] = ev.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
}

func (a *Aggregator) recordIndex(ev IndexEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch ev.Type {
	case EventReindex:
		a.stats.Reindexed++
	case EventUnindex:
		a.stats.Unindexed++
	}
}

// DefaultTop is how many entries Stats keeps in each ranked list.
const DefaultTop = 10

func (a *Aggregator) Stats() AggregatedStats {
	return a.StatsTop(DefaultTop)
}

// StatsTop is Stats with n entries in each ranked list.
func (a *Aggregator) StatsTop(n int) AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := a.stats
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, n)
	stats.TopTerms = topN(a.termCounts, n)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, n)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN breaks count ties alphabetically.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
