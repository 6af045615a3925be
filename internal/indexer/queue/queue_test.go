package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store/memory"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/kafka"
)

type executorFunc func(ctx context.Context, task indexer.ReindexTask) error

func (f executorFunc) ExecuteTask(ctx context.Context, task indexer.ReindexTask) error {
	return f(ctx, task)
}

type doc struct {
	ID   string
	Body string
}

func (d doc) Owner() store.Owner { return store.Owner{Collection: "docs", Key: d.ID} }

func TestLocalRunsScheduledTasks(t *testing.T) {
	l := NewLocal(3, 10, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan indexer.ReindexTask, 5)
	go l.Run(ctx, executorFunc(func(_ context.Context, task indexer.ReindexTask) error {
		got <- task
		return nil
	}))

	for i := 0; i < 5; i++ {
		if err := l.Schedule(ctx, "bulk", indexer.ReindexTask{ID: string(rune('a' + i))}); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}
	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		select {
		case task := <-got:
			if task.Queue != "bulk" {
				t.Errorf("task queue = %q", task.Queue)
			}
			seen[task.ID] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d tasks ran", i)
		}
	}
	if len(seen) != 5 {
		t.Errorf("ran %d distinct tasks, want 5", len(seen))
	}
}

func TestLocalTaskTimeout(t *testing.T) {
	l := NewLocal(1, 1, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 1)
	go l.Run(ctx, executorFunc(func(ctx context.Context, _ indexer.ReindexTask) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	}))
	if err := l.Schedule(ctx, "default", indexer.ReindexTask{ID: "slow"}); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("task saw %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task was never cancelled")
	}
}

func TestLocalScheduleAfterStop(t *testing.T) {
	l := NewLocal(1, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx, executorFunc(func(context.Context, indexer.ReindexTask) error { return nil }))
		close(done)
	}()
	cancel()
	<-done

	err := l.Schedule(context.Background(), "default", indexer.ReindexTask{ID: "late"})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

func TestLocalDrivesEngine(t *testing.T) {
	st := memory.New()
	l := NewLocal(2, 4, time.Second)
	e, err := indexer.New(st, indexer.Config{
		Identify:       indexer.IdentifyOwner,
		Scheduler:      l,
		DeferByDefault: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, e)

	if err := e.Index(ctx, doc{ID: "1", Body: "melon"}, []string{"body"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		recs, err := st.FindRecords(ctx, store.Filter{Collection: "docs"})
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("deferred reindex never landed, records = %+v", recs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLocalRunsOneRecordSerially(t *testing.T) {
	st := memory.New()
	l := NewLocal(4, 64, time.Second)
	e, err := indexer.New(st, indexer.Config{
		Identify:       indexer.IdentifyOwner,
		Scheduler:      l,
		DeferByDefault: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const rounds = 40
	done := make(chan struct{}, 2*rounds)
	go l.Run(ctx, executorFunc(func(ctx context.Context, task indexer.ReindexTask) error {
		defer func() { done <- struct{}{} }()
		return e.ExecuteTask(ctx, task)
	}))

	var melon, grape []string
	for i := 0; i < 40; i++ {
		melon = append(melon, fmt.Sprintf("melon%d", i))
		grape = append(grape, fmt.Sprintf("grape%d", i))
	}
	bodies := []string{strings.Join(melon, " "), strings.Join(grape, " ")}
	for i := 0; i < rounds; i++ {
		if err := e.Index(ctx, doc{ID: "1", Body: bodies[i%2]}, []string{"body"}); err != nil {
			t.Fatal(err)
		}
		if err := e.Index(ctx, doc{ID: string(rune('a' + i%8)), Body: "kiwi"}, []string{"body"}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2*rounds; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d tasks ran", i, 2*rounds)
		}
	}

	owner := store.Owner{Collection: "docs", Key: "1"}
	recs, err := st.FindRecords(ctx, store.Filter{Owner: &owner})
	if err != nil {
		t.Fatal(err)
	}
	want := make(map[string]bool)
	for _, term := range tokenizer.Terms(bodies[1]) {
		want[term.Term] = true
	}
	if len(recs) != len(want) {
		t.Errorf("owner has %d records, want %d", len(recs), len(want))
	}
	for _, rec := range recs {
		if !want[rec.Term] {
			t.Fatalf("stale term %q left from an earlier body", rec.Term)
		}
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	closed bool
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, event kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestKafkaSchedulePublishesPerQueueTopic(t *testing.T) {
	pubs := make(map[string]*fakePublisher)
	k := newKafka(
		func(queue string) string { return "index-tasks." + queue },
		func(topic string) Publisher {
			p := &fakePublisher{}
			pubs[topic] = p
			return p
		},
	)
	ctx := context.Background()
	task := indexer.ReindexTask{
		ID:     "t1",
		Record: store.Owner{Collection: "docs", Key: "1"},
		Fields: []string{"body"},
		Values: map[string][]string{"body": {"melon"}},
	}
	if err := k.Schedule(ctx, "default", task); err != nil {
		t.Fatal(err)
	}
	if err := k.Schedule(ctx, "default", task); err != nil {
		t.Fatal(err)
	}
	if err := k.Schedule(ctx, "bulk", task); err != nil {
		t.Fatal(err)
	}

	if len(pubs) != 2 {
		t.Fatalf("opened %d publishers, want 2", len(pubs))
	}
	p := pubs["index-tasks.default"]
	if p == nil || len(p.events) != 2 {
		t.Fatalf("default topic events = %+v", p)
	}
	ev := p.events[0]
	if ev.Key != "docs/1" || ev.Headers[QueueHeader] != "default" {
		t.Errorf("event = %+v", ev)
	}

	raw, err := json.Marshal(ev.Value)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := kafka.DecodeJSON[indexer.ReindexTask](raw)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Queue != "default" || decoded.Values["body"][0] != "melon" {
		t.Errorf("decoded task = %+v", decoded)
	}

	if err := k.Close(); err != nil {
		t.Fatal(err)
	}
	for topic, p := range pubs {
		if !p.closed {
			t.Errorf("%s not closed", topic)
		}
	}
}

func TestKafkaScheduleError(t *testing.T) {
	boom := errors.New("broker down")
	k := newKafka(
		func(queue string) string { return queue },
		func(string) Publisher { return &fakePublisher{err: boom} },
	)
	err := k.Schedule(context.Background(), "default", indexer.ReindexTask{ID: "t"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped publish error", err)
	}
}
