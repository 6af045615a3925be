package executor

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
)

// Lookup loads the caller's records for owners. Owners it cannot find, or
// filters out, are simply absent from the map.
type Lookup[T any] func(ctx context.Context, owners []store.Owner) (map[store.Owner]T, error)

// Resolve maps r's ranked owners to records in rank order, dropping owners
// the lookup did not return.
func Resolve[T any](ctx context.Context, r *Result, lookup Lookup[T]) ([]T, error) {
	out := make([]T, 0, len(r.Results))
	if len(r.Results) == 0 {
		return out, nil
	}
	owners := r.Owners()
	found, err := lookup(ctx, owners)
	if err != nil {
		return nil, fmt.Errorf("resolving search results: %w", err)
	}
	for _, o := range owners {
		if rec, ok := found[o]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SearchRecords runs req and resolves the ranked owners through lookup.
func SearchRecords[T any](ctx context.Context, e *Executor, req Request, lookup Lookup[T]) ([]T, *Result, error) {
	res, err := e.Search(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	recs, err := Resolve(ctx, res, lookup)
	if err != nil {
		return nil, res, err
	}
	return recs, res, nil
}
