// Package ingestion is the HTTP surface for putting records into the index
// and taking them out again. Records arrive as JSON and are indexed, or
// scheduled for indexing, through the indexer engine.
package ingestion

import "github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"

// IndexRequest is the JSON body accepted by POST /api/v1/records. Fields
// holds the record's attributes; IndexFields names the ones to index and
// may use "parent__child" paths into nested objects. A nil Defer uses the
// engine default.
type IndexRequest struct {
	Collection  string         `json:"collection"`
	Key         string         `json:"key"`
	Fields      map[string]any `json:"fields"`
	IndexFields []string       `json:"index_fields"`
	Defer       *bool          `json:"defer,omitempty"`
	Queue       string         `json:"queue,omitempty"`
}

type IndexResponse struct {
	Owner  string `json:"owner"`
	Status string `json:"status"`
}

const (
	StatusIndexed   = "indexed"
	StatusScheduled = "scheduled"
	StatusRemoved   = "removed"
)

// Record adapts an IndexRequest to the indexer: it carries its own identity
// and indexed fields, and exposes Fields as model attributes.
type Record struct {
	Collection  string
	Key         string
	Fields      map[string]any
	IndexFields []string
}

func NewRecord(req *IndexRequest) Record {
	return Record{
		Collection:  req.Collection,
		Key:         req.Key,
		Fields:      req.Fields,
		IndexFields: req.IndexFields,
	}
}

func (r Record) Owner() store.Owner {
	return store.Owner{Collection: r.Collection, Key: r.Key}
}

func (r Record) SearchFields() []string {
	return r.IndexFields
}

func (r Record) Attr(name string) (any, error) {
	return r.Fields[name], nil
}
