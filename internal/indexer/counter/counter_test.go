package counter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store/memory"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/metrics"
)

func newCounter(t *testing.T) (*Counter, *memory.Store, *metrics.Metrics) {
	t.Helper()
	st := memory.New()
	m := metrics.New(prometheus.NewRegistry())
	return New(st, config.RetryConfig{}, m), st, m
}

func count(t *testing.T, st store.Store, term string) (uint64, bool) {
	t.Helper()
	c, err := st.GetCounter(context.Background(), term)
	if errors.Is(err, store.ErrNotFound) {
		return 0, false
	}
	if err != nil {
		t.Fatalf("GetCounter(%q): %v", term, err)
	}
	return c.Count, true
}

func TestIncrementDecrement(t *testing.T) {
	c, st, _ := newCounter(t)
	ctx := context.Background()

	for _, d := range []uint64{3, 2, 0} {
		if err := c.Increment(ctx, "banana", d); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}
	if n, _ := count(t, st, "banana"); n != 5 {
		t.Fatalf("count = %d, want 5", n)
	}

	if err := c.Decrement(ctx, "banana", 4); err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if n, _ := count(t, st, "banana"); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	if err := c.Decrement(ctx, "banana", 1); err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if _, ok := count(t, st, "banana"); ok {
		t.Error("counter at zero should be removed")
	}
}

func TestDecrementBelowZeroRemovesRow(t *testing.T) {
	c, st, _ := newCounter(t)
	ctx := context.Background()
	if err := c.Increment(ctx, "kiwi", 2); err != nil {
		t.Fatal(err)
	}
	if err := c.Decrement(ctx, "kiwi", 7); err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if _, ok := count(t, st, "kiwi"); ok {
		t.Error("counter should be removed")
	}
}

func TestDecrementMissingIsWarning(t *testing.T) {
	c, st, m := newCounter(t)
	if err := c.Decrement(context.Background(), "ghost", 1); err != nil {
		t.Fatalf("Decrement of missing counter returned %v", err)
	}
	if _, ok := count(t, st, "ghost"); ok {
		t.Error("decrement must not create a counter")
	}
	if got := testutil.ToFloat64(m.ConsistencyWarnings.WithLabelValues("missing_counter")); got != 1 {
		t.Errorf("consistency warnings = %v, want 1", got)
	}
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	c, st, _ := newCounter(t)
	ctx := context.Background()

	const workers, each = 16, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*each)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if err := c.Increment(ctx, "eat", 1); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Increment: %v", err)
	}
	if n, _ := count(t, st, "eat"); n != workers*each {
		t.Errorf("count = %d, want %d", n, workers*each)
	}
}

func TestTransactGivesUpWhenContextEnds(t *testing.T) {
	c, _, _ := newCounter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Transact(ctx, "test", func(ctx context.Context, tx store.Tx) error {
		return store.ErrConflict
	})
	if err == nil {
		t.Fatal("expected an error once the context is canceled")
	}
}

func TestTransactDoesNotRetryOtherErrors(t *testing.T) {
	c, _, _ := newCounter(t)
	boom := errors.New("boom")
	calls := 0
	err := c.Transact(context.Background(), "test", func(ctx context.Context, tx store.Tx) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestGetMany(t *testing.T) {
	c, _, _ := newCounter(t)
	ctx := context.Background()
	_ = c.Increment(ctx, "red", 1)
	_ = c.Increment(ctx, "blue", 3)

	got, err := c.GetMany(ctx, []string{"red", "blue", "green"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["red"] != 1 || got["blue"] != 3 {
		t.Errorf("GetMany = %v", got)
	}
}

func TestRecompute(t *testing.T) {
	c, st, _ := newCounter(t)
	ctx := context.Background()
	owner := store.Owner{Collection: "fruit", Key: "1"}
	other := store.Owner{Collection: "fruit", Key: "2"}

	err := st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, rec := range []store.IndexRecord{
			{Term: "banana", Field: "name", Occurrences: 3, Owner: owner},
			{Term: "banana", Field: "name", Occurrences: 2, Owner: other},
		} {
			if err := tx.CreateRecord(ctx, rec); err != nil {
				return err
			}
		}
		if err := tx.PutCounter(ctx, "banana", 42); err != nil {
			return err
		}
		return tx.PutCounter(ctx, "orphan", 9)
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := c.Recompute(ctx, "banana")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if n != 5 {
		t.Errorf("Recompute = %d, want 5", n)
	}

	done, err := c.RecomputeAll(ctx)
	if err != nil {
		t.Fatalf("RecomputeAll: %v", err)
	}
	if done != 2 {
		t.Errorf("recomputed %d terms, want 2", done)
	}
	if got, _ := count(t, st, "banana"); got != 5 {
		t.Errorf("banana = %d, want 5", got)
	}
	if _, ok := count(t, st, "orphan"); ok {
		t.Error("orphan counter should be removed")
	}
}
