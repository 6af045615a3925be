package cache

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/metrics"
)

// Searcher fronts an Executor with an optional QueryCache and records
// search latency by cache outcome.
type Searcher struct {
	exec    *executor.Executor
	cache   *QueryCache
	metrics *metrics.Metrics
}

// NewSearcher returns a Searcher. qc and m may be nil.
func NewSearcher(exec *executor.Executor, qc *QueryCache, m *metrics.Metrics) *Searcher {
	return &Searcher{exec: exec, cache: qc, metrics: m}
}

// Search reports whether the result came from the cache.
func (s *Searcher) Search(ctx context.Context, req executor.Request) (*executor.Result, bool, error) {
	start := time.Now()
	req = s.exec.Normalize(req)

	var (
		res    *executor.Result
		cached bool
		err    error
		status = "disabled"
	)
	if s.cache == nil {
		res, err = s.exec.Search(ctx, req)
	} else {
		res, cached, err = s.cache.GetOrCompute(ctx, req, func() (*executor.Result, error) {
			return s.exec.Search(ctx, req)
		})
		status = "miss"
		if cached {
			status = "hit"
		}
	}
	if err != nil {
		return nil, false, err
	}
	if s.metrics != nil {
		s.metrics.SearchLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
	return res, cached, nil
}

// Cache returns the query cache, or nil when caching is off.
func (s *Searcher) Cache() *QueryCache {
	return s.cache
}
