// Package executor answers search requests: it parses the query, loads the
// matching index records and global counts, ranks owners and pages the
// result. Callers turn owners back into records with Resolve.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/tracing"
)

// Request is one search. Zero paging fields take the configured defaults.
type Request struct {
	Query      string   `json:"query"`
	Collection string   `json:"collection,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	PerPage    int      `json:"per_page"`
	Page       int      `json:"page"`
	TotalPages int      `json:"total_pages"`
}

type Result struct {
	Query      string               `json:"query"`
	Terms      []string             `json:"terms"`
	Scoped     map[string][]string  `json:"scoped,omitempty"`
	Candidates int                  `json:"candidates"`
	PerPage    int                  `json:"per_page"`
	Page       int                  `json:"page"`
	TotalPages int                  `json:"total_pages"`
	Results    []ranker.ScoredOwner `json:"results"`
}

// Owners returns the ranked owners in order.
func (r *Result) Owners() []store.Owner {
	out := make([]store.Owner, len(r.Results))
	for i, s := range r.Results {
		out[i] = s.Owner
	}
	return out
}

// CountReader is the read side of the global counter.
type CountReader interface {
	GetMany(ctx context.Context, terms []string) (map[string]uint64, error)
}

type Executor struct {
	records store.Reader
	counts  CountReader
	parser  *parser.Parser
	cfg     config.SearchConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns an Executor. canon must match the one used for indexing; nil
// means tokenizer.Default. m may be nil.
func New(records store.Reader, counts CountReader, cfg config.SearchConfig, canon *tokenizer.Canonicalizer, m *metrics.Metrics) *Executor {
	if cfg.DefaultPerPage <= 0 {
		cfg.DefaultPerPage = 50
	}
	if cfg.DefaultTotalPages <= 0 {
		cfg.DefaultTotalPages = 10
	}
	return &Executor{
		records: records,
		counts:  counts,
		parser:  parser.New(canon),
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "query-executor"),
	}
}

// Normalize fills in paging defaults and caps PerPage and TotalPages. Page
// is held just past TotalPages, which already selects nothing.
func (e *Executor) Normalize(req Request) Request {
	if req.PerPage == 0 {
		req.PerPage = e.cfg.DefaultPerPage
	}
	if e.cfg.MaxPerPage > 0 && req.PerPage > e.cfg.MaxPerPage {
		req.PerPage = e.cfg.MaxPerPage
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.TotalPages == 0 {
		req.TotalPages = e.cfg.DefaultTotalPages
	}
	if e.cfg.MaxTotalPages > 0 && req.TotalPages > e.cfg.MaxTotalPages {
		req.TotalPages = e.cfg.MaxTotalPages
	}
	if req.TotalPages > 0 && req.Page > req.TotalPages {
		req.Page = req.TotalPages + 1
	}
	return req
}

// Search never fails for a query without matches; it returns an empty
// result.
func (e *Executor) Search(ctx context.Context, req Request) (*Result, error) {
	req = e.Normalize(req)
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "search")
	defer func() {
		span.End()
		span.Log(ctx)
	}()

	_, parseSpan := tracing.StartChildSpan(ctx, "parse")
	q := e.parser.Parse(req.Query)
	terms := q.Unscoped()
	parseSpan.SetAttr("terms", len(terms))
	parseSpan.End()

	result := &Result{
		Query:      req.Query,
		Terms:      terms,
		PerPage:    req.PerPage,
		Page:       req.Page,
		TotalPages: req.TotalPages,
		Results:    []ranker.ScoredOwner{},
	}
	if labels := q.Labels(); len(labels) > 0 {
		result.Scoped = make(map[string][]string, len(labels))
		for _, l := range labels {
			result.Scoped[l] = q[l]
		}
	}
	if len(terms) == 0 {
		e.observe(result)
		return result, nil
	}

	lookup := storedTerms(terms)
	_, countSpan := tracing.StartChildSpan(ctx, "counts")
	counts, err := e.counts.GetMany(ctx, lookup)
	countSpan.SetAttr("found", len(counts))
	countSpan.End()
	if err != nil {
		return nil, fmt.Errorf("loading global counts: %w", err)
	}

	_, matchSpan := tracing.StartChildSpan(ctx, "match")
	recs, err := e.records.FindRecords(ctx, store.Filter{
		Terms:      lookup,
		Collection: req.Collection,
		Fields:     req.Fields,
	})
	matchSpan.SetAttr("records", len(recs))
	matchSpan.End()
	if err != nil {
		return nil, fmt.Errorf("loading index records: %w", err)
	}

	_, rankSpan := tracing.StartChildSpan(ctx, "rank")
	groups := e.group(ctx, recs, counts)
	result.Candidates = len(groups)
	result.Results = ranker.Rank(groups, req.PerPage, req.Page, req.TotalPages)
	rankSpan.SetAttr("candidates", len(groups))
	rankSpan.End()

	e.observe(result)
	logger.FromContext(ctx).Info("query executed",
		"component", "query-executor",
		"query", req.Query,
		"terms", terms,
		"candidates", result.Candidates,
		"results", len(result.Results),
		"took_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// storedTerms maps query terms onto the bounded form they were indexed under.
func storedTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		t = store.TruncateTerm(t)
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// group collects one global count per distinct term per owner, keeping
// owners in the order their first record was found. A record whose term has
// no counter is skipped and reported.
func (e *Executor) group(ctx context.Context, recs []store.IndexRecord, counts map[string]uint64) []ranker.Group {
	type candidate struct {
		counts []uint64
		seen   map[string]struct{}
	}
	var order []store.Owner
	byOwner := make(map[store.Owner]*candidate)
	missing := make(map[string]struct{})

	for _, rec := range recs {
		count, ok := counts[rec.Term]
		if !ok {
			if _, logged := missing[rec.Term]; !logged {
				missing[rec.Term] = struct{}{}
				logger.FromContext(ctx).Warn("matched term has no global count",
					"component", "query-executor",
					"term", rec.Term,
					"error", apperrors.ErrLookupFailure,
				)
			}
			if e.metrics != nil {
				e.metrics.LookupFailuresTotal.Inc()
			}
			continue
		}
		c, ok := byOwner[rec.Owner]
		if !ok {
			c = &candidate{seen: make(map[string]struct{})}
			byOwner[rec.Owner] = c
			order = append(order, rec.Owner)
		}
		if _, dup := c.seen[rec.Term]; dup {
			continue
		}
		c.seen[rec.Term] = struct{}{}
		c.counts = append(c.counts, count)
	}

	groups := make([]ranker.Group, 0, len(order))
	for _, o := range order {
		groups = append(groups, ranker.Group{Owner: o, Counts: byOwner[o].counts})
	}
	return groups
}

func (e *Executor) observe(r *Result) {
	if e.metrics == nil {
		return
	}
	kind := "results"
	if len(r.Results) == 0 {
		kind = "no_results"
	}
	e.metrics.SearchQueriesTotal.WithLabelValues(kind).Inc()
	e.metrics.SearchResultsCount.Observe(float64(len(r.Results)))
}
