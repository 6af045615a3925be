package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store/memory"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
)

type mapBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (b *mapBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (b *mapBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return nil
}

func (b *mapBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for k := range b.data {
		if strings.HasPrefix(k, strings.TrimSuffix(pattern, "*")) {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}

type recordingTracker struct {
	events []analytics.SearchEvent
}

func (r *recordingTracker) TrackSearch(ev analytics.SearchEvent) {
	r.events = append(r.events, ev)
}

type song struct{ ID, Title string }

func (s song) Owner() store.Owner { return store.Owner{Collection: "songs", Key: s.ID} }

func newMux(t *testing.T, withCache bool) (*http.ServeMux, *recordingTracker) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	engine, err := indexer.New(st, indexer.Config{Identify: indexer.IdentifyOwner})
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []song{
		{ID: "1", Title: "yellow submarine"},
		{ID: "2", Title: "yellow"},
		{ID: "3", Title: "blue monday"},
	} {
		if err := engine.Reindex(ctx, s, []string{"title"}); err != nil {
			t.Fatal(err)
		}
	}
	exec := executor.New(st, engine.Counter(), config.SearchConfig{MaxPerPage: 5}, nil, nil)

	var qc *cache.QueryCache
	if withCache {
		qc = cache.New(&mapBackend{data: make(map[string][]byte)}, time.Minute, nil)
	}
	tracker := &recordingTracker{}
	mux := http.NewServeMux()
	New(cache.NewSearcher(exec, qc, nil), qc, tracker).Register(mux)
	return mux, tracker
}

func get(mux *http.ServeMux, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

type response struct {
	Terms    []string `json:"terms"`
	PerPage  int      `json:"per_page"`
	CacheHit bool     `json:"cache_hit"`
	Results  []struct {
		Owner store.Owner `json:"owner"`
	} `json:"results"`
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var r response
	if err := json.NewDecoder(rec.Body).Decode(&r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSearch(t *testing.T) {
	mux, tracker := newMux(t, true)

	r := decodeResponse(t, get(mux, http.MethodGet, "/api/v1/search?q=yellow&per_page=50"))
	if len(r.Results) != 2 || r.CacheHit {
		t.Fatalf("response = %+v", r)
	}
	if r.PerPage != 5 {
		t.Errorf("per_page = %d, want capped at 5", r.PerPage)
	}

	r = decodeResponse(t, get(mux, http.MethodGet, "/api/v1/search?q=YELLOW&per_page=50"))
	if !r.CacheHit {
		t.Error("repeat search should be a cache hit")
	}

	r = decodeResponse(t, get(mux, http.MethodGet, "/api/v1/search?q=yellow&per_page=1&page=2"))
	if len(r.Results) != 1 {
		t.Errorf("page 2 = %+v", r.Results)
	}

	if len(tracker.events) != 3 || tracker.events[0].Returned != 2 {
		t.Errorf("tracked = %+v", tracker.events)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	mux, _ := newMux(t, false)
	r := decodeResponse(t, get(mux, http.MethodGet, "/api/v1/search"))
	if r.Results == nil || len(r.Results) != 0 {
		t.Errorf("results = %+v", r.Results)
	}
}

func TestSearchRejectsBadPaging(t *testing.T) {
	mux, _ := newMux(t, false)
	for _, target := range []string{
		"/api/v1/search?q=x&per_page=abc",
		"/api/v1/search?q=x&page=0",
		"/api/v1/search?q=x&total_pages=-1",
	} {
		if rec := get(mux, http.MethodGet, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", target, rec.Code)
		}
	}
}

func TestSearchHugePaging(t *testing.T) {
	mux, _ := newMux(t, false)
	r := decodeResponse(t, get(mux, http.MethodGet, "/api/v1/search?q=yellow&per_page=500&total_pages=18446744073709552"))
	if len(r.Results) != 2 {
		t.Errorf("results = %+v", r.Results)
	}
	r = decodeResponse(t, get(mux, http.MethodGet, "/api/v1/search?q=yellow&page=9223372036854775807&total_pages=9223372036854775807"))
	if r.Results == nil || len(r.Results) != 0 {
		t.Errorf("results = %+v", r.Results)
	}
}

type failingSearcher struct{ err error }

func (f failingSearcher) Search(context.Context, executor.Request) (*executor.Result, bool, error) {
	return nil, false, f.err
}

func TestSearchFailure(t *testing.T) {
	mux := http.NewServeMux()
	New(failingSearcher{err: errors.New("db down")}, nil, nil).Register(mux)
	if rec := get(mux, http.MethodGet, "/api/v1/search?q=x"); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}

	mux = http.NewServeMux()
	New(failingSearcher{err: apperrors.ErrTimeout}, nil, nil).Register(mux)
	if rec := get(mux, http.MethodGet, "/api/v1/search?q=x"); rec.Code != apperrors.HTTPStatusCode(apperrors.ErrTimeout) {
		t.Errorf("timeout status = %d", rec.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	mux, _ := newMux(t, true)
	get(mux, http.MethodGet, "/api/v1/search?q=blue")

	rec := get(mux, http.MethodGet, "/api/v1/cache/stats")
	var stats map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats["misses"] != float64(1) || stats["breaker"] != "closed" {
		t.Errorf("stats = %v", stats)
	}

	rec = get(mux, http.MethodPost, "/api/v1/cache/invalidate")
	if rec.Code != http.StatusOK {
		t.Fatalf("invalidate status = %d", rec.Code)
	}
	var inv map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&inv); err != nil {
		t.Fatal(err)
	}
	if inv["keys_deleted"] != float64(1) {
		t.Errorf("invalidate = %v", inv)
	}
}

func TestCacheEndpointsDisabled(t *testing.T) {
	mux, _ := newMux(t, false)
	if rec := get(mux, http.MethodPost, "/api/v1/cache/invalidate"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("invalidate status = %d", rec.Code)
	}
	rec := get(mux, http.MethodGet, "/api/v1/cache/stats")
	if !strings.Contains(rec.Body.String(), "disabled") {
		t.Errorf("stats = %s", rec.Body)
	}
}
