// Package publisher hands validated ingestion requests to the indexer
// engine, indexing them in place or scheduling them on a task queue.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
)

// Engine is the part of *indexer.Engine the publisher uses.
type Engine interface {
	Index(ctx context.Context, rec any, fields []string, opts ...indexer.IndexOption) error
	UnindexOwner(ctx context.Context, owner store.Owner) error
	Defers(opts ...indexer.IndexOption) bool
}

type Publisher struct {
	engine Engine
	logger *slog.Logger
}

func New(engine Engine) *Publisher {
	return &Publisher{
		engine: engine,
		logger: slog.Default().With("component", "publisher"),
	}
}

// Index indexes the record described by req. The response status says
// whether the work was done or only scheduled.
func (p *Publisher) Index(ctx context.Context, req *ingestion.IndexRequest) (*ingestion.IndexResponse, error) {
	rec := ingestion.NewRecord(req)
	var opts []indexer.IndexOption
	if req.Defer != nil {
		opts = append(opts, indexer.WithDefer(*req.Defer))
	}
	if req.Queue != "" {
		opts = append(opts, indexer.WithQueue(req.Queue))
	}

	if err := p.engine.Index(ctx, rec, rec.SearchFields(), opts...); err != nil {
		return nil, fmt.Errorf("indexing %s: %w", rec.Owner(), err)
	}
	status := ingestion.StatusIndexed
	if p.engine.Defers(opts...) {
		status = ingestion.StatusScheduled
	}
	return &ingestion.IndexResponse{Owner: rec.Owner().String(), Status: status}, nil
}

// Remove drops every index row of the owner. Removing an owner that was
// never indexed succeeds.
func (p *Publisher) Remove(ctx context.Context, owner store.Owner) (*ingestion.IndexResponse, error) {
	if err := p.engine.UnindexOwner(ctx, owner); err != nil {
		return nil, fmt.Errorf("unindexing %s: %w", owner, err)
	}
	return &ingestion.IndexResponse{Owner: owner.String(), Status: ingestion.StatusRemoved}, nil
}
