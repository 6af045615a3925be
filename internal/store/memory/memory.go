// Package memory is an in-process store backend. Transactions buffer their
// writes and validate, at commit, that every counter and record they read is
// unchanged; otherwise the commit fails with store.ErrConflict.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
)

type recordKey struct {
	term, field, collection, key string
}

func keyOf(rec store.IndexRecord) recordKey {
	return recordKey{rec.Term, rec.Field, rec.Owner.Collection, rec.Owner.Key}
}

type entry struct {
	rec store.IndexRecord
	seq uint64
}

// Store keeps counters and index records in maps guarded by one RWMutex.
// seq is bumped on every committed write and doubles as the version of the
// row written, so a version is never reused.
type Store struct {
	mu       sync.RWMutex
	seq      uint64
	counters map[string]store.Counter
	records  map[recordKey]entry
	logger   *slog.Logger
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		counters: make(map[string]store.Counter),
		records:  make(map[recordKey]entry),
		logger:   slog.Default().With("component", "memory-store"),
	}
}

func (s *Store) GetCounter(_ context.Context, term string) (store.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counters[term]
	if !ok {
		return store.Counter{}, fmt.Errorf("counter %q: %w", term, store.ErrNotFound)
	}
	return c, nil
}

func (s *Store) GetCounters(_ context.Context, terms []string) (map[string]store.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]store.Counter, len(terms))
	for _, term := range terms {
		if c, ok := s.counters[term]; ok {
			out[term] = c
		}
	}
	return out, nil
}

func (s *Store) FindRecords(_ context.Context, f store.Filter) ([]store.IndexRecord, error) {
	s.mu.RLock()
	matched := make([]entry, 0)
	for _, e := range s.records {
		if f.Matches(e.rec) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]store.IndexRecord, len(matched))
	for i, e := range matched {
		out[i] = e.rec
	}
	return out, nil
}

func (s *Store) Terms(_ context.Context) ([]string, error) {
	s.mu.RLock()
	set := make(map[string]struct{}, len(s.counters))
	for term := range s.counters {
		set[term] = struct{}{}
	}
	for k := range s.records {
		set[k.term] = struct{}{}
	}
	s.mu.RUnlock()
	return sortedKeys(set), nil
}

// RunInTx runs fn against a buffered transaction and commits it if fn
// succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := newTx(s)
	if err := fn(store.WithTransaction(ctx), t); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for term, seen := range t.counterReads {
		if s.counters[term].Version != seen {
			s.logger.Debug("commit conflict", "counter", term)
			return fmt.Errorf("counter %q changed: %w", term, store.ErrConflict)
		}
	}
	for k, seen := range t.recordReads {
		if s.records[k].seq != seen {
			s.logger.Debug("commit conflict", "term", k.term, "collection", k.collection, "key", k.key)
			return fmt.Errorf("index record %q for %s/%s changed: %w", k.term, k.collection, k.key, store.ErrConflict)
		}
	}

	for k := range t.deletes {
		delete(s.records, k)
	}
	for _, k := range t.createOrder {
		rec, ok := t.creates[k]
		if !ok {
			continue
		}
		s.seq++
		s.records[k] = entry{rec: rec, seq: s.seq}
	}
	for term, c := range t.counters {
		if c == nil {
			delete(s.counters, term)
			continue
		}
		s.seq++
		s.counters[term] = store.Counter{Term: term, Count: c.Count, Version: s.seq}
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
