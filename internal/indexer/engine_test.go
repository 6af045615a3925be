package indexer

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store/memory"
	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/metrics"
)

type fruit struct {
	ID   string
	Name string
	Tags []string
}

func (f fruit) Owner() store.Owner { return store.Owner{Collection: "fruit", Key: f.ID} }

func (f fruit) SearchFields() []string { return []string{"name", "tags"} }

type recordingScheduler struct {
	mu     sync.Mutex
	queues []string
	tasks  []ReindexTask
}

func (s *recordingScheduler) Schedule(_ context.Context, queue string, task ReindexTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues = append(s.queues, queue)
	s.tasks = append(s.tasks, task)
	return nil
}

func newEngine(t *testing.T, cfg Config) (*Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	if cfg.Identify == nil {
		cfg.Identify = IdentifyOwner
	}
	e, err := New(st, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, st
}

type indexState struct {
	records  []store.IndexRecord
	counters map[string]uint64
}

func stateOf(t *testing.T, st store.Store) indexState {
	t.Helper()
	ctx := context.Background()
	recs, err := st.FindRecords(ctx, store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Owner != b.Owner {
			return a.Owner.String() < b.Owner.String()
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Term < b.Term
	})
	terms, err := st.Terms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := st.GetCounters(ctx, terms)
	if err != nil {
		t.Fatal(err)
	}
	counters := make(map[string]uint64, len(rows))
	for term, row := range rows {
		counters[term] = row.Count
	}
	return indexState{records: recs, counters: counters}
}

func canonical(text string) string {
	return strings.Join(tokenizer.Default.Canonicalize(text), " ")
}

func TestNewRequiresIdentify(t *testing.T) {
	_, err := New(memory.New(), Config{})
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestReindexIsIdempotent(t *testing.T) {
	e, st := newEngine(t, Config{})
	ctx := context.Background()
	rec := fruit{ID: "1", Name: "Banana split with banana", Tags: []string{"dessert", "banana"}}

	if err := e.Reindex(ctx, rec, rec.SearchFields()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	once := stateOf(t, st)
	if len(once.records) == 0 {
		t.Fatal("no index records written")
	}

	if err := e.Reindex(ctx, rec, rec.SearchFields()); err != nil {
		t.Fatalf("second Reindex: %v", err)
	}
	twice := stateOf(t, st)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("state changed on reindex:\nonce  %+v\ntwice %+v", once, twice)
	}
}

func TestBananaCount(t *testing.T) {
	e, st := newEngine(t, Config{})
	ctx := context.Background()
	recs := []fruit{{ID: "1", Name: "banana"}, {ID: "2", Name: "banana"}, {ID: "3", Name: "BANANA"}}
	for _, r := range recs {
		if err := e.Reindex(ctx, r, []string{"name"}); err != nil {
			t.Fatal(err)
		}
	}
	term := canonical("banana")
	got, err := e.Counter().GetMany(ctx, []string{term})
	if err != nil {
		t.Fatal(err)
	}
	if got[term] != 3 {
		t.Fatalf("count[%q] = %d, want 3", term, got[term])
	}

	if err := e.Unindex(ctx, recs[0]); err != nil {
		t.Fatalf("Unindex: %v", err)
	}
	got, _ = e.Counter().GetMany(ctx, []string{term})
	if got[term] != 2 {
		t.Errorf("count after unindex = %d, want 2", got[term])
	}
	left, err := st.FindRecords(ctx, store.Filter{Terms: []string{term}})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range left {
		if r.Owner == recs[0].Owner() {
			t.Errorf("unindexed owner still has record %+v", r)
		}
	}
	if len(left) != 2 {
		t.Errorf("records left = %d, want 2", len(left))
	}
}

func TestWindowBoundEndToEnd(t *testing.T) {
	e, st := newEngine(t, Config{})
	ctx := context.Background()
	rec := fruit{ID: "1", Name: "bananas apples cherries plums oranges kiwi"}
	if err := e.Reindex(ctx, rec, []string{"name"}); err != nil {
		t.Fatal(err)
	}

	four := canonical("bananas apples cherries plums")
	five := canonical("bananas apples cherries plums oranges")
	hits, _ := st.FindRecords(ctx, store.Filter{Terms: []string{four}})
	if len(hits) != 1 {
		t.Errorf("4-word window %q matched %d records, want 1", four, len(hits))
	}
	hits, _ = st.FindRecords(ctx, store.Filter{Terms: []string{five}})
	if len(hits) != 0 {
		t.Errorf("5-word window %q matched %d records, want 0", five, len(hits))
	}
}

func TestCounterConservation(t *testing.T) {
	e, st := newEngine(t, Config{})
	ctx := context.Background()
	recs := []fruit{
		{ID: "1", Name: "red apple", Tags: []string{"crisp"}},
		{ID: "2", Name: "green apple pie", Tags: []string{"baked", "apple"}},
		{ID: "3", Name: "apple apple apple"},
	}
	for _, r := range recs {
		if err := e.Reindex(ctx, r, r.SearchFields()); err != nil {
			t.Fatal(err)
		}
	}

	state := stateOf(t, st)
	sums := make(map[string]uint64)
	for _, r := range state.records {
		sums[r.Term] += r.Occurrences
	}
	if !reflect.DeepEqual(sums, state.counters) {
		t.Errorf("counters %v do not match record sums %v", state.counters, sums)
	}

	for _, r := range recs {
		if err := e.Unindex(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	terms, err := st.Terms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(terms) != 0 {
		t.Errorf("terms left after full unindex: %q", terms)
	}
}

func TestIterableFieldMergesOccurrences(t *testing.T) {
	e, st := newEngine(t, Config{})
	ctx := context.Background()
	rec := fruit{ID: "1", Tags: []string{"banana", "banana split"}}
	if err := e.Reindex(ctx, rec, []string{"tags"}); err != nil {
		t.Fatal(err)
	}
	term := canonical("banana")
	hits, err := st.FindRecords(ctx, store.Filter{Terms: []string{term}, Fields: []string{"tags"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d records, want one per (field, term)", len(hits))
	}
	if hits[0].Occurrences != 2 {
		t.Errorf("occurrences = %d, want 2", hits[0].Occurrences)
	}
}

func TestIndexDefersByDefault(t *testing.T) {
	sched := &recordingScheduler{}
	e, st := newEngine(t, Config{Scheduler: sched, DeferByDefault: true, Queue: "search"})
	ctx := context.Background()
	rec := fruit{ID: "7", Name: "Banana"}

	if err := e.Index(ctx, rec, []string{"name"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if n := len(stateOf(t, st).records); n != 0 {
		t.Fatalf("deferred index wrote %d records", n)
	}
	if len(sched.tasks) != 1 || sched.queues[0] != "search" {
		t.Fatalf("scheduled %v on %v", sched.tasks, sched.queues)
	}
	task := sched.tasks[0]
	if task.Record != rec.Owner() || !reflect.DeepEqual(task.Values["name"], []string{"Banana"}) {
		t.Errorf("task snapshot = %+v", task)
	}
	if task.ID == "" {
		t.Error("task has no id")
	}

	if err := e.ExecuteTask(ctx, task); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	hits, _ := st.FindRecords(ctx, store.Filter{Terms: []string{canonical("banana")}})
	if len(hits) != 1 || hits[0].Owner != rec.Owner() {
		t.Errorf("after task: %+v", hits)
	}

	// At-least-once delivery.
	before := stateOf(t, st)
	if err := e.ExecuteTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	if after := stateOf(t, st); !reflect.DeepEqual(before, after) {
		t.Error("redelivered task changed the index")
	}
}

func TestIndexOptions(t *testing.T) {
	sched := &recordingScheduler{}
	e, st := newEngine(t, Config{Scheduler: sched, DeferByDefault: true})
	ctx := context.Background()

	if err := e.Index(ctx, fruit{ID: "1", Name: "kiwi"}, []string{"name"}, WithDefer(false)); err != nil {
		t.Fatal(err)
	}
	if len(sched.tasks) != 0 || len(stateOf(t, st).records) == 0 {
		t.Errorf("WithDefer(false) should index synchronously")
	}

	if err := e.Index(ctx, fruit{ID: "2", Name: "kiwi"}, []string{"name"}, WithQueue("bulk")); err != nil {
		t.Fatal(err)
	}
	if len(sched.queues) != 1 || sched.queues[0] != "bulk" || sched.tasks[0].Queue != "bulk" {
		t.Errorf("queues = %v", sched.queues)
	}
}

func TestIndexInsideTransactionDefers(t *testing.T) {
	sched := &recordingScheduler{}
	e, st := newEngine(t, Config{Scheduler: sched, DeferByDefault: false})
	ctx := store.WithTransaction(context.Background())

	if err := e.Index(ctx, fruit{ID: "1", Name: "plum"}, []string{"name"}); err != nil {
		t.Fatal(err)
	}
	if len(sched.tasks) != 1 {
		t.Fatalf("scheduled %d tasks, want 1", len(sched.tasks))
	}
	if sched.queues[0] != DefaultQueue {
		t.Errorf("queue = %q, want %q", sched.queues[0], DefaultQueue)
	}
	if n := len(stateOf(t, st).records); n != 0 {
		t.Errorf("wrote %d records inside a transaction", n)
	}
}

func TestDeferWithoutScheduler(t *testing.T) {
	e, _ := newEngine(t, Config{DeferByDefault: true})
	err := e.Index(context.Background(), fruit{ID: "1", Name: "plum"}, []string{"name"})
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestConfigurationErrorsPropagate(t *testing.T) {
	e, _ := newEngine(t, Config{})
	ctx := context.Background()

	err := e.Reindex(ctx, fruit{ID: "1"}, []string{"colour"})
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("unknown field: err = %v", err)
	}
	err = e.Reindex(ctx, map[string]any{"name": "x"}, []string{"name"})
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("record without identity: err = %v", err)
	}
	err = e.Reindex(ctx, fruit{}, []string{"name"})
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("empty key: err = %v", err)
	}
}

func TestCustomIdentify(t *testing.T) {
	e, st := newEngine(t, Config{Identify: func(rec any) (store.Owner, error) {
		m := rec.(map[string]any)
		return store.Owner{Collection: "docs", Key: m["id"].(string)}, nil
	}})
	ctx := context.Background()
	if err := e.Reindex(ctx, map[string]any{"id": "a", "body": "melon"}, []string{"body"}); err != nil {
		t.Fatal(err)
	}
	hits, _ := st.FindRecords(ctx, store.Filter{Collection: "docs"})
	if len(hits) != 1 || hits[0].Field != "body" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestNoExtractableDataIsNoop(t *testing.T) {
	e, st := newEngine(t, Config{})
	ctx := context.Background()
	if err := e.Reindex(ctx, fruit{ID: "1", Name: "the of and"}, []string{"name", "tags"}); err != nil {
		t.Fatal(err)
	}
	if err := e.Unindex(ctx, fruit{ID: "2"}); err != nil {
		t.Fatal(err)
	}
	if n := len(stateOf(t, st).records); n != 0 {
		t.Errorf("got %d records", n)
	}
}

func TestUnindexToleratesMissingCounter(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	e, st := newEngine(t, Config{Metrics: m})
	ctx := context.Background()
	owner := store.Owner{Collection: "fruit", Key: "1"}
	err := st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateRecord(ctx, store.IndexRecord{Term: "lost", Field: "name", Occurrences: 2, Owner: owner})
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.UnindexOwner(ctx, owner); err != nil {
		t.Fatalf("UnindexOwner: %v", err)
	}
	if n := len(stateOf(t, st).records); n != 0 {
		t.Errorf("record survived unindex")
	}
	if got := testutil.ToFloat64(m.ConsistencyWarnings.WithLabelValues("missing_counter")); got != 1 {
		t.Errorf("consistency warnings = %v, want 1", got)
	}
}

func TestOnChange(t *testing.T) {
	var ops []string
	e, _ := newEngine(t, Config{OnChange: func(_ context.Context, op string, owner store.Owner) {
		ops = append(ops, op+" "+owner.String())
	}})
	ctx := context.Background()
	rec := fruit{ID: "9", Name: "fig"}
	_ = e.Reindex(ctx, rec, []string{"name"})
	_ = e.Unindex(ctx, rec)

	want := []string{"reindex fruit/9", "unindex fruit/9"}
	if !reflect.DeepEqual(ops, want) {
		t.Errorf("ops = %q, want %q", ops, want)
	}
}

func TestConcurrentIndexingConverges(t *testing.T) {
	e, st := newEngine(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := fruit{ID: string(rune('a' + i)), Name: "shared words here"}
			if err := e.Reindex(ctx, rec, []string{"name"}); err != nil {
				t.Errorf("Reindex: %v", err)
			}
		}(i)
	}
	wg.Wait()

	term := canonical("shared")
	got, _ := e.Counter().GetMany(ctx, []string{term})
	if got[term] != 12 {
		t.Errorf("count[%q] = %d, want 12", term, got[term])
	}
	state := stateOf(t, st)
	sums := make(map[string]uint64)
	for _, r := range state.records {
		sums[r.Term] += r.Occurrences
	}
	if !reflect.DeepEqual(sums, state.counters) {
		t.Errorf("counters diverged from records")
	}
}

func TestHooks(t *testing.T) {
	e, st := newEngine(t, Config{})
	h := Hooks{Engine: e, Options: []IndexOption{WithDefer(false)}}
	ctx := context.Background()

	if err := h.AfterSave(ctx, struct{ Name string }{"ignored"}); err != nil {
		t.Fatalf("non-searchable record: %v", err)
	}
	rec := fruit{ID: "1", Name: "cherry", Tags: []string{"red"}}
	if err := h.AfterSave(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if n := len(stateOf(t, st).records); n != 2 {
		t.Errorf("records after save = %d, want 2", n)
	}
	if err := h.BeforeDelete(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if n := len(stateOf(t, st).records); n != 0 {
		t.Errorf("records after delete = %d, want 0", n)
	}
}
