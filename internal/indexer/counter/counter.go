// Package counter maintains the global occurrence count of every indexed
// term. Each update runs in its own store transaction and is retried on
// write conflicts until it lands or the context ends.
package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/resilience"
)

// Counter is safe for concurrent use.
type Counter struct {
	store   store.Store
	retry   config.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a Counter over st. m may be nil.
func New(st store.Store, retry config.RetryConfig, m *metrics.Metrics) *Counter {
	return &Counter{
		store:   st,
		retry:   retry,
		metrics: m,
		logger:  logger.WithComponent("counter"),
	}
}

// Transact runs fn in a store transaction, retrying the whole transaction
// on store.ErrConflict. Other errors are returned as is.
func (c *Counter) Transact(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	cfg := resilience.RetryConfig{
		MaxAttempts:  c.retry.MaxAttempts,
		InitialDelay: c.retry.InitialDelay,
		MaxDelay:     c.retry.MaxDelay,
		RetryIf: func(err error) bool {
			return errors.Is(err, store.ErrConflict)
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.Debug("transaction collision, retrying",
				"operation", op, "attempt", attempt, "backoff", delay, "error", err)
			if c.metrics != nil {
				c.metrics.WriteConflictsTotal.WithLabelValues(op).Inc()
			}
		},
	}
	return resilience.Retry(ctx, op, cfg, func() error {
		return c.store.RunInTx(ctx, fn)
	})
}

// IncrementTx adds delta to term inside tx, creating the counter if needed.
func (c *Counter) IncrementTx(ctx context.Context, tx store.Tx, term string, delta uint64) error {
	if delta == 0 {
		return nil
	}
	if _, err := tx.AddCounter(ctx, term, delta); err != nil {
		return fmt.Errorf("incrementing %q: %w", term, err)
	}
	return nil
}

// DecrementTx subtracts delta from term inside tx. A counter that would
// reach or pass zero is deleted. A missing counter is logged as a
// consistency warning and otherwise ignored.
func (c *Counter) DecrementTx(ctx context.Context, tx store.Tx, term string, delta uint64) error {
	cur, err := tx.GetCounter(ctx, term)
	if errors.Is(err, store.ErrNotFound) {
		logger.FromContext(ctx).Warn("global counter missing, ignoring decrement",
			"component", "counter", "term", term, "delta", delta)
		if c.metrics != nil {
			c.metrics.ConsistencyWarnings.WithLabelValues("missing_counter").Inc()
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading counter %q: %w", term, err)
	}
	if cur.Count <= delta {
		if err := tx.DeleteCounter(ctx, term); err != nil {
			return fmt.Errorf("deleting counter %q: %w", term, err)
		}
		return nil
	}
	if err := tx.PutCounter(ctx, term, cur.Count-delta); err != nil {
		return fmt.Errorf("decrementing %q: %w", term, err)
	}
	return nil
}

// Increment adds delta to term's global count.
func (c *Counter) Increment(ctx context.Context, term string, delta uint64) error {
	return c.Transact(ctx, "increment", func(ctx context.Context, tx store.Tx) error {
		return c.IncrementTx(ctx, tx, term, delta)
	})
}

// Decrement subtracts delta from term's global count.
func (c *Counter) Decrement(ctx context.Context, term string, delta uint64) error {
	return c.Transact(ctx, "decrement", func(ctx context.Context, tx store.Tx) error {
		return c.DecrementTx(ctx, tx, term, delta)
	})
}

// GetMany returns the counts of terms. Terms without a counter are absent
// from the result.
func (c *Counter) GetMany(ctx context.Context, terms []string) (map[string]uint64, error) {
	rows, err := c.store.GetCounters(ctx, terms)
	if err != nil {
		return nil, fmt.Errorf("loading counters: %w", err)
	}
	out := make(map[string]uint64, len(rows))
	for term, row := range rows {
		out[term] = row.Count
	}
	return out, nil
}

// Recompute sets term's count to the sum of its live index records and
// returns it. A sum of zero deletes the counter.
func (c *Counter) Recompute(ctx context.Context, term string) (uint64, error) {
	var total uint64
	err := c.Transact(ctx, "recompute", func(ctx context.Context, tx store.Tx) error {
		recs, err := tx.FindRecords(ctx, store.Filter{Terms: []string{term}})
		if err != nil {
			return err
		}
		total = 0
		for _, rec := range recs {
			total += rec.Occurrences
		}
		cur, err := tx.GetCounter(ctx, term)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if total == 0 {
				return nil
			}
		case err != nil:
			return err
		case cur.Count == total:
			return nil
		}
		if total == 0 {
			return tx.DeleteCounter(ctx, term)
		}
		return tx.PutCounter(ctx, term, total)
	})
	if err != nil {
		return 0, fmt.Errorf("recomputing %q: %w", term, err)
	}
	return total, nil
}

// RecomputeAll recomputes every term known to the store. It keeps going
// past failures and returns them together.
func (c *Counter) RecomputeAll(ctx context.Context) (int, error) {
	terms, err := c.store.Terms(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing terms: %w", err)
	}
	var errs *multierror.Error
	done := 0
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		if _, err := c.Recompute(ctx, term); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		done++
	}
	c.logger.Info("recompute finished", "terms", len(terms), "recomputed", done)
	return done, errs.ErrorOrNil()
}
