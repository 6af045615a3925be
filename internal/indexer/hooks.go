package indexer

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/extract"
)

// Hooks connects a persistence layer's save and delete events to an Engine.
// Only records implementing extract.Searchable are touched.
type Hooks struct {
	Engine  *Engine
	Options []IndexOption
}

// AfterSave indexes rec on the fields it declares.
func (h Hooks) AfterSave(ctx context.Context, rec any) error {
	s, ok := rec.(extract.Searchable)
	if !ok {
		return nil
	}
	return h.Engine.Index(ctx, rec, s.SearchFields(), h.Options...)
}

// BeforeDelete unindexes rec.
func (h Hooks) BeforeDelete(ctx context.Context, rec any) error {
	if _, ok := rec.(extract.Searchable); !ok {
		return nil
	}
	return h.Engine.Unindex(ctx, rec)
}
