package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
)

// tx buffers writes until commit. counterReads and recordReads hold the
// version (zero when absent) first observed for each row the transaction
// depends on.
type tx struct {
	s            *Store
	counterReads map[string]uint64
	recordReads  map[recordKey]uint64
	counters     map[string]*store.Counter
	creates      map[recordKey]store.IndexRecord
	createOrder  []recordKey
	deletes      map[recordKey]struct{}
}

func newTx(s *Store) *tx {
	return &tx{
		s:            s,
		counterReads: make(map[string]uint64),
		recordReads:  make(map[recordKey]uint64),
		counters:     make(map[string]*store.Counter),
		creates:      make(map[recordKey]store.IndexRecord),
		deletes:      make(map[recordKey]struct{}),
	}
}

// readCounter returns the counter as this transaction sees it.
func (t *tx) readCounter(term string) (store.Counter, bool) {
	if c, ok := t.counters[term]; ok {
		if c == nil {
			return store.Counter{}, false
		}
		return *c, true
	}
	t.s.mu.RLock()
	c, ok := t.s.counters[term]
	t.s.mu.RUnlock()
	if _, seen := t.counterReads[term]; !seen {
		t.counterReads[term] = c.Version
	}
	return c, ok
}

// readRecord reports whether the record exists in the base store, remembering
// the version observed.
func (t *tx) readRecord(k recordKey) bool {
	t.s.mu.RLock()
	e, ok := t.s.records[k]
	t.s.mu.RUnlock()
	if _, seen := t.recordReads[k]; !seen {
		t.recordReads[k] = e.seq
	}
	return ok
}

func (t *tx) GetCounter(_ context.Context, term string) (store.Counter, error) {
	c, ok := t.readCounter(term)
	if !ok {
		return store.Counter{}, fmt.Errorf("counter %q: %w", term, store.ErrNotFound)
	}
	return c, nil
}

func (t *tx) GetCounters(_ context.Context, terms []string) (map[string]store.Counter, error) {
	out := make(map[string]store.Counter, len(terms))
	for _, term := range terms {
		if c, ok := t.readCounter(term); ok {
			out[term] = c
		}
	}
	return out, nil
}

func (t *tx) FindRecords(ctx context.Context, f store.Filter) ([]store.IndexRecord, error) {
	base, err := t.s.FindRecords(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]store.IndexRecord, 0, len(base))
	for _, rec := range base {
		if _, gone := t.deletes[keyOf(rec)]; !gone {
			out = append(out, rec)
		}
	}
	for _, k := range t.createOrder {
		if rec, ok := t.creates[k]; ok && f.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (t *tx) Terms(ctx context.Context) ([]string, error) {
	base, err := t.s.Terms(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(base))
	for _, term := range base {
		set[term] = struct{}{}
	}
	for term, c := range t.counters {
		if c != nil {
			set[term] = struct{}{}
		}
	}
	for k := range t.creates {
		set[k.term] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for term := range set {
		out = append(out, term)
	}
	sort.Strings(out)
	return out, nil
}

func (t *tx) CreateRecord(_ context.Context, rec store.IndexRecord) error {
	rec.Term = store.TruncateTerm(rec.Term)
	k := keyOf(rec)
	if _, ok := t.creates[k]; ok {
		return fmt.Errorf("index record %q for %s: %w", rec.Term, rec.Owner, store.ErrDuplicate)
	}
	_, deleted := t.deletes[k]
	if t.readRecord(k) && !deleted {
		return fmt.Errorf("index record %q for %s: %w", rec.Term, rec.Owner, store.ErrDuplicate)
	}
	t.creates[k] = rec
	t.createOrder = append(t.createOrder, k)
	return nil
}

func (t *tx) DeleteRecord(_ context.Context, rec store.IndexRecord) error {
	k := keyOf(rec)
	if _, ok := t.creates[k]; ok {
		delete(t.creates, k)
		return nil
	}
	if _, ok := t.deletes[k]; ok {
		return fmt.Errorf("index record %q for %s: %w", rec.Term, rec.Owner, store.ErrNotFound)
	}
	if !t.readRecord(k) {
		return fmt.Errorf("index record %q for %s: %w", rec.Term, rec.Owner, store.ErrNotFound)
	}
	t.deletes[k] = struct{}{}
	return nil
}

func (t *tx) PutCounter(_ context.Context, term string, count uint64) error {
	c, _ := t.readCounter(term)
	c.Term = term
	c.Count = count
	t.counters[term] = &c
	return nil
}

func (t *tx) DeleteCounter(_ context.Context, term string) error {
	t.readCounter(term)
	t.counters[term] = nil
	return nil
}

func (t *tx) AddCounter(_ context.Context, term string, delta uint64) (uint64, error) {
	c, _ := t.readCounter(term)
	c.Term = term
	c.Count += delta
	t.counters[term] = &c
	return c.Count, nil
}
