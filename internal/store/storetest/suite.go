// Package storetest holds a check.v1 suite that every store backend must
// pass. Backends embed SuiteBase in their own suite and call SetStore.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gc "gopkg.in/check.v1"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/resilience"
)

// SuiteBase defines a re-usable set of store tests that can be executed
// against any type that implements store.Store.
type SuiteBase struct {
	s store.Store
}

// SetStore configures the test-suite to run all tests against s.
func (s *SuiteBase) SetStore(st store.Store) {
	s.s = st
}

var (
	alice = store.Owner{Collection: "people", Key: "alice"}
	bob   = store.Owner{Collection: "people", Key: "bob"}
	book  = store.Owner{Collection: "books", Key: "1"}
)

func (s *SuiteBase) create(c *gc.C, recs ...store.IndexRecord) {
	err := s.s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, rec := range recs {
			if err := tx.CreateRecord(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	c.Assert(err, gc.IsNil)
}

// TestCounterLifecycle verifies counter creation, update and removal.
func (s *SuiteBase) TestCounterLifecycle(c *gc.C) {
	ctx := context.Background()

	_, err := s.s.GetCounter(ctx, "banana")
	c.Assert(errors.Is(err, store.ErrNotFound), gc.Equals, true, gc.Commentf("got %v", err))

	err = s.s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.AddCounter(ctx, "banana", 3)
		c.Check(n, gc.Equals, uint64(3))
		return err
	})
	c.Assert(err, gc.IsNil)

	err = s.s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.AddCounter(ctx, "banana", 2)
		c.Check(n, gc.Equals, uint64(5))
		return err
	})
	c.Assert(err, gc.IsNil)

	got, err := s.s.GetCounter(ctx, "banana")
	c.Assert(err, gc.IsNil)
	c.Assert(got.Count, gc.Equals, uint64(5))
	first := got.Version

	err = s.s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.PutCounter(ctx, "banana", 1)
	})
	c.Assert(err, gc.IsNil)
	got, err = s.s.GetCounter(ctx, "banana")
	c.Assert(err, gc.IsNil)
	c.Assert(got.Count, gc.Equals, uint64(1))
	c.Assert(got.Version, gc.Not(gc.Equals), first, gc.Commentf("version must change on write"))

	err = s.s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteCounter(ctx, "banana")
	})
	c.Assert(err, gc.IsNil)
	_, err = s.s.GetCounter(ctx, "banana")
	c.Assert(errors.Is(err, store.ErrNotFound), gc.Equals, true)
}

// TestGetCountersOmitsMissing verifies batch counter lookups.
func (s *SuiteBase) TestGetCountersOmitsMissing(c *gc.C) {
	ctx := context.Background()
	err := s.s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.AddCounter(ctx, "red", 1); err != nil {
			return err
		}
		_, err := tx.AddCounter(ctx, "blue", 4)
		return err
	})
	c.Assert(err, gc.IsNil)

	got, err := s.s.GetCounters(ctx, []string{"red", "green", "blue"})
	c.Assert(err, gc.IsNil)
	c.Assert(got, gc.HasLen, 2)
	c.Assert(got["red"].Count, gc.Equals, uint64(1))
	c.Assert(got["blue"].Count, gc.Equals, uint64(4))

	empty, err := s.s.GetCounters(ctx, nil)
	c.Assert(err, gc.IsNil)
	c.Assert(empty, gc.HasLen, 0)
}

// TestFindRecordsFiltersAndOrder verifies filtering and creation ordering.
func (s *SuiteBase) TestFindRecordsFiltersAndOrder(c *gc.C) {
	ctx := context.Background()
	s.create(c,
		store.IndexRecord{Term: "eat", Field: "bio", Occurrences: 1, Owner: bob},
		store.IndexRecord{Term: "eat", Field: "bio", Occurrences: 2, Owner: alice},
		store.IndexRecord{Term: "eat", Field: "title", Occurrences: 1, Owner: book},
	)
	s.create(c, store.IndexRecord{Term: "cake", Field: "bio", Occurrences: 1, Owner: alice})

	all, err := s.s.FindRecords(ctx, store.Filter{Terms: []string{"eat", "cake"}})
	c.Assert(err, gc.IsNil)
	c.Assert(all, gc.HasLen, 4)
	c.Assert(all[0].Owner, gc.Equals, bob)
	c.Assert(all[1].Owner, gc.Equals, alice)
	c.Assert(all[2].Owner, gc.Equals, book)
	c.Assert(all[3].Term, gc.Equals, "cake")

	people, err := s.s.FindRecords(ctx, store.Filter{Terms: []string{"eat"}, Collection: "people"})
	c.Assert(err, gc.IsNil)
	c.Assert(people, gc.HasLen, 2)

	titles, err := s.s.FindRecords(ctx, store.Filter{Fields: []string{"title"}})
	c.Assert(err, gc.IsNil)
	c.Assert(titles, gc.HasLen, 1)
	c.Assert(titles[0].Owner, gc.Equals, book)

	owner := alice
	mine, err := s.s.FindRecords(ctx, store.Filter{Owner: &owner})
	c.Assert(err, gc.IsNil)
	c.Assert(mine, gc.HasLen, 2)
	c.Assert(mine[0].Occurrences, gc.Equals, uint64(2))

	terms, err := s.s.Terms(ctx)
	c.Assert(err, gc.IsNil)
	c.Assert(terms, gc.DeepEquals, []string{"cake", "eat"})
}

// TestRecordUniqueness verifies that (term, field, owner) is unique.
func (s *SuiteBase) TestRecordUniqueness(c *gc.C) {
	rec := store.IndexRecord{Term: "eat", Field: "bio", Occurrences: 1, Owner: alice}
	s.create(c, rec)

	err := s.s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateRecord(ctx, rec)
	})
	c.Assert(errors.Is(err, store.ErrDuplicate), gc.Equals, true, gc.Commentf("got %v", err))

	other := rec
	other.Field = "title"
	s.create(c, other)
}

// TestDeleteRecord verifies removal and the not-found signal.
func (s *SuiteBase) TestDeleteRecord(c *gc.C) {
	ctx := context.Background()
	rec := store.IndexRecord{Term: "eat", Field: "bio", Occurrences: 1, Owner: alice}
	s.create(c, rec)

	err := s.s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteRecord(ctx, rec)
	})
	c.Assert(err, gc.IsNil)

	err = s.s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteRecord(ctx, rec)
	})
	c.Assert(errors.Is(err, store.ErrNotFound), gc.Equals, true, gc.Commentf("got %v", err))

	left, err := s.s.FindRecords(ctx, store.Filter{Terms: []string{"eat"}})
	c.Assert(err, gc.IsNil)
	c.Assert(left, gc.HasLen, 0)
}

// TestRollbackOnError verifies that a failed transaction leaves no trace.
func (s *SuiteBase) TestRollbackOnError(c *gc.C) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c.Check(store.InTransaction(ctx), gc.Equals, true)
		if err := tx.CreateRecord(ctx, store.IndexRecord{Term: "eat", Field: "bio", Occurrences: 1, Owner: alice}); err != nil {
			return err
		}
		if _, err := tx.AddCounter(ctx, "eat", 1); err != nil {
			return err
		}
		return boom
	})
	c.Assert(errors.Is(err, boom), gc.Equals, true)

	recs, err := s.s.FindRecords(ctx, store.Filter{})
	c.Assert(err, gc.IsNil)
	c.Assert(recs, gc.HasLen, 0)
	_, err = s.s.GetCounter(ctx, "eat")
	c.Assert(errors.Is(err, store.ErrNotFound), gc.Equals, true)
}

// TestTxSeesOwnWrites verifies read-your-writes inside a transaction.
func (s *SuiteBase) TestTxSeesOwnWrites(c *gc.C) {
	err := s.s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.AddCounter(ctx, "eat", 2); err != nil {
			return err
		}
		got, err := tx.GetCounter(ctx, "eat")
		if err != nil {
			return err
		}
		c.Check(got.Count, gc.Equals, uint64(2))

		rec := store.IndexRecord{Term: "eat", Field: "bio", Occurrences: 2, Owner: alice}
		if err := tx.CreateRecord(ctx, rec); err != nil {
			return err
		}
		recs, err := tx.FindRecords(ctx, store.Filter{Terms: []string{"eat"}})
		if err != nil {
			return err
		}
		c.Check(recs, gc.HasLen, 1)
		return nil
	})
	c.Assert(err, gc.IsNil)
}

// TestConcurrentAddCounter verifies that concurrent increments are never
// lost when conflicting transactions are retried.
func (s *SuiteBase) TestConcurrentAddCounter(c *gc.C) {
	const workers, perWorker = 8, 10
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	retry := resilience.RetryConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		RetryIf:      func(err error) bool { return errors.Is(err, store.ErrConflict) },
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				err := resilience.Retry(ctx, fmt.Sprintf("add-%d", w), retry, func() error {
					return s.s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
						_, err := tx.AddCounter(ctx, "hot", 1)
						return err
					})
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		c.Fatalf("increment failed: %v", err)
	}

	got, err := s.s.GetCounter(context.Background(), "hot")
	c.Assert(err, gc.IsNil)
	c.Assert(got.Count, gc.Equals, uint64(workers*perWorker))
}

// TestTruncatesLongTerms verifies that stored terms never exceed the limit.
func (s *SuiteBase) TestTruncatesLongTerms(c *gc.C) {
	long := make([]byte, store.MaxTermLength+50)
	for i := range long {
		long[i] = 'a'
	}
	s.create(c, store.IndexRecord{Term: string(long), Field: "bio", Occurrences: 1, Owner: alice})

	recs, err := s.s.FindRecords(context.Background(), store.Filter{Owner: &alice})
	c.Assert(err, gc.IsNil)
	c.Assert(recs, gc.HasLen, 1)
	c.Assert(len(recs[0].Term), gc.Equals, store.MaxTermLength)
}
