// Package cache keeps search results in Redis. Identical requests share a
// key; concurrent misses for one key compute the result once. Any index
// change invalidates every cached result.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/resilience"
)

const keyPrefix = "search:"

// Backend is the key/value store behind the cache. *redis.Client
// implements it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	backend Backend
	isMiss  func(error) bool
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New wraps backend. Backend errors trip a circuit breaker so a dead Redis
// costs one failed call per reset window instead of one per search.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return newCache(backend, ttl, m, pkgredis.IsNilError)
}

func newCache(backend Backend, ttl time.Duration, m *metrics.Metrics, isMiss func(error) bool) *QueryCache {
	c := &QueryCache{
		backend: backend,
		isMiss:  isMiss,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		IsFailure:        func(err error) bool { return !isMiss(err) },
		OnStateChange: func(name string, _, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

func (c *QueryCache) Get(ctx context.Context, req executor.Request) (*executor.Result, bool) {
	key := Key(req)
	data, err := resilience.Call(c.breaker, func() ([]byte, error) {
		return c.backend.Get(ctx, key)
	})
	if err != nil {
		if !c.isMiss(err) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result executor.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "query", req.Query, "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, req executor.Request, result *executor.Result) {
	key := Key(req)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for req or computes and stores it.
// The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	req executor.Request,
	compute func() (*executor.Result, error),
) (*executor.Result, bool, error) {
	if result, ok := c.Get(ctx, req); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(Key(req), func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, req, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.Result), false, nil
}

// Invalidate drops every cached result and returns how many were removed.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := resilience.Call(c.breaker, func() (int64, error) {
		return c.backend.FlushByPattern(ctx, keyPrefix+"*")
	})
	if err != nil {
		return 0, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BreakerState reports the circuit breaker in front of the backend.
func (c *QueryCache) BreakerState() string {
	return c.breaker.GetState().String()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Key hashes the parts of req that change its result. Queries that
// normalize to the same text share a key.
func Key(req executor.Request) string {
	fields := append([]string(nil), req.Fields...)
	sort.Strings(fields)
	query := strings.Join(strings.Fields(tokenizer.Default.NormalizeQuery(req.Query)), " ")
	raw := fmt.Sprintf("%s|c=%s|f=%s|pp=%d|p=%d|tp=%d",
		query, req.Collection, strings.Join(fields, ","), req.PerPage, req.Page, req.TotalPages)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
