// Command loadtest seeds a running search service with generated records and
// then drives a mixed search and reindex workload against its HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var vocabulary = strings.Fields(`
	apple banana cherry plum grape melon lemon lime kiwi mango peach pear
	river forest mountain valley ocean desert meadow canyon island glacier
	quick quiet bright heavy gentle silver golden ancient hidden broken
	running jumping singing reading writing painting cooking sailing climbing
`)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Records     int
	WriteRatio  float64
	Collection  string
}

type Stats struct {
	searches      atomic.Int64
	writes        atomic.Int64
	errorCount    atomic.Int64
	cacheHits     atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	if err != nil || statusCode < 200 || statusCode >= 300 {
		s.errorCount.Add(1)
	}
	if err != nil {
		return
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	records := flag.Int("records", 1000, "records to seed before the run")
	writeRatio := flag.Float64("write-ratio", 0.05, "fraction of requests that reindex a record")
	collection := flag.String("collection", "loadtest", "collection the generated records live in")
	flag.Parse()

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		Records:     *records,
		WriteRatio:  *writeRatio,
		Collection:  *collection,
	}

	fmt.Println("=== simplesearch load test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Records:     %d\n", cfg.Records)
	fmt.Printf("Write ratio: %.2f\n", cfg.WriteRatio)
	fmt.Println()

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	if err := seed(client, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
		os.Exit(1)
	}
	stats := runLoadTest(client, cfg)
	printReport(stats, cfg.Duration)
}

func sentence(r *rand.Rand, words int) string {
	out := make([]string, words)
	for i := range out {
		out[i] = vocabulary[r.IntN(len(vocabulary))]
	}
	return strings.Join(out, " ")
}

func indexBody(cfg Config, r *rand.Rand, key int) []byte {
	body, _ := json.Marshal(map[string]any{
		"collection": cfg.Collection,
		"key":        strconv.Itoa(key),
		"fields": map[string]any{
			"title": sentence(r, 3),
			"body":  sentence(r, 12),
			"tags":  []string{vocabulary[r.IntN(len(vocabulary))], vocabulary[r.IntN(len(vocabulary))]},
		},
		"index_fields": []string{"title", "body", "tags"},
		"defer":        false,
	})
	return body
}

func postRecord(ctx context.Context, client *http.Client, cfg Config, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/records", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

func seed(client *http.Client, cfg Config) error {
	fmt.Printf("Seeding %d records", cfg.Records)
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < cfg.Records; i++ {
		status, err := postRecord(context.Background(), client, cfg, indexBody(cfg, r, i))
		if err != nil {
			return err
		}
		if status >= 300 {
			return fmt.Errorf("record %d: status %d", i, status)
		}
		if i%100 == 0 {
			fmt.Print(".")
		}
	}
	fmt.Println(" done!")
	return nil
}

func runLoadTest(client *http.Client, cfg Config) *Stats {
	stats := NewStats()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(workerID), 7))
			for ctx.Err() == nil {
				if r.Float64() < cfg.WriteRatio && cfg.Records > 0 {
					start := time.Now()
					status, err := postRecord(ctx, client, cfg, indexBody(cfg, r, r.IntN(cfg.Records)))
					if ctx.Err() != nil {
						return
					}
					stats.writes.Add(1)
					stats.RecordRequest(time.Since(start), status, err)
					continue
				}
				search(ctx, client, cfg, stats, sentence(r, 1+r.IntN(3)))
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func search(ctx context.Context, client *http.Client, cfg Config, stats *Stats, query string) {
	searchURL := fmt.Sprintf("%s/api/v1/search?q=%s&collection=%s&per_page=10",
		cfg.BaseURL, url.QueryEscape(query), url.QueryEscape(cfg.Collection))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	stats.searches.Add(1)
	if err != nil {
		stats.RecordRequest(duration, 0, err)
		return
	}
	var body struct {
		CacheHit bool `json:"cache_hit"`
	}
	if json.NewDecoder(resp.Body).Decode(&body) == nil && body.CacheHit {
		stats.cacheHits.Add(1)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	stats.RecordRequest(duration, resp.StatusCode, nil)
}

func printReport(stats *Stats, duration time.Duration) {
	searches := stats.searches.Load()
	writes := stats.writes.Load()
	total := searches + writes
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Searches:        %d\n", searches)
	fmt.Printf("Reindexes:       %d\n", writes)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errors)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}
	if searches > 0 {
		fmt.Printf("Cache Hit Rate:  %.2f%%\n", float64(stats.cacheHits.Load())/float64(searches)*100)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code].Load())
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
