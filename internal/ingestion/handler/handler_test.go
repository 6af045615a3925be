package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store/memory"
)

type server struct {
	mux   *http.ServeMux
	store *memory.Store
	mu    sync.Mutex
	tasks []indexer.ReindexTask
}

func newServer(t *testing.T, withScheduler bool) *server {
	t.Helper()
	s := &server{mux: http.NewServeMux(), store: memory.New()}
	cfg := indexer.Config{Identify: indexer.IdentifyOwner}
	if withScheduler {
		cfg.Scheduler = indexer.SchedulerFunc(func(_ context.Context, _ string, task indexer.ReindexTask) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.tasks = append(s.tasks, task)
			return nil
		})
	}
	engine, err := indexer.New(s.store, cfg)
	if err != nil {
		t.Fatal(err)
	}
	New(publisher.New(engine)).Register(s.mux)
	return s
}

func (s *server) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func (s *server) ownerRecords(t *testing.T, owner store.Owner) []store.IndexRecord {
	t.Helper()
	recs, err := s.store.FindRecords(context.Background(), store.Filter{Owner: &owner})
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestIndexAndDelete(t *testing.T) {
	s := newServer(t, false)
	owner := store.Owner{Collection: "books", Key: "42"}

	rec := s.do(http.MethodPost, "/api/v1/records", `{
		"collection": "books",
		"key": "42",
		"fields": {"title": "Garden Birds", "author": {"name": "Ann Lee"}, "tags": ["nature", "birds"]},
		"index_fields": ["title", "author__name", "tags"]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	resp := decode[ingestion.IndexResponse](t, rec)
	if resp.Status != ingestion.StatusIndexed || resp.Owner != "books/42" {
		t.Errorf("response = %+v", resp)
	}

	fields := make(map[string]bool)
	for _, r := range s.ownerRecords(t, owner) {
		fields[r.Field] = true
	}
	for _, f := range []string{"title", "author__name", "tags"} {
		if !fields[f] {
			t.Errorf("no records for field %q", f)
		}
	}

	rec = s.do(http.MethodDelete, "/api/v1/records/books/42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if got := decode[ingestion.IndexResponse](t, rec); got.Status != ingestion.StatusRemoved {
		t.Errorf("delete response = %+v", got)
	}
	if n := len(s.ownerRecords(t, owner)); n != 0 {
		t.Errorf("%d records left after delete", n)
	}
}

func TestIndexDeferred(t *testing.T) {
	s := newServer(t, true)
	rec := s.do(http.MethodPost, "/api/v1/records",
		`{"collection":"books","key":"7","fields":{"title":"Tide Pools"},"index_fields":["title"],"defer":true,"queue":"bulk"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	if got := decode[ingestion.IndexResponse](t, rec); got.Status != ingestion.StatusScheduled {
		t.Errorf("response = %+v", got)
	}
	if len(s.tasks) != 1 || s.tasks[0].Queue != "bulk" {
		t.Fatalf("tasks = %+v", s.tasks)
	}
	if n := len(s.ownerRecords(t, store.Owner{Collection: "books", Key: "7"})); n != 0 {
		t.Errorf("deferred request wrote %d records", n)
	}
}

func TestIndexRejectsBadInput(t *testing.T) {
	s := newServer(t, false)
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "bad json", body: `{"collection":`},
		{name: "missing collection", body: `{"key":"1","index_fields":["a"]}`, field: "collection"},
		{name: "slash in key", body: `{"collection":"c","key":"a/b","index_fields":["a"]}`, field: "key"},
		{name: "no index fields", body: `{"collection":"c","key":"1"}`, field: "index_fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/v1/records", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if tt.field == "" {
				return
			}
			body := decode[struct {
				Fields map[string]string `json:"fields"`
			}](t, rec)
			if _, ok := body.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want %q reported", body.Fields, tt.field)
			}
		})
	}
}

func TestDeferWithoutSchedulerIsServerError(t *testing.T) {
	s := newServer(t, false)
	rec := s.do(http.MethodPost, "/api/v1/records",
		`{"collection":"books","key":"1","fields":{"title":"x"},"index_fields":["title"],"defer":true}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}
