// Package analytics records what the search service does. Collectors publish
// events to Kafka in batches; an Aggregator consumes them and keeps running
// totals that can be served over HTTP or snapshotted to PostgreSQL.
package analytics

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventReindex    EventType = "reindex"
	EventUnindex    EventType = "unindex"
)

type SearchEvent struct {
	Type       EventType `json:"type"`
	Query      string    `json:"query"`
	Terms      []string  `json:"terms"`
	Collection string    `json:"collection,omitempty"`
	Candidates int       `json:"candidates"`
	Returned   int       `json:"returned"`
	LatencyMs  int64     `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

// IndexEvent reports a change to one owner's index rows.
type IndexEvent struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	Key        string    `json:"key"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Decode returns a *SearchEvent or *IndexEvent depending on the type tag.
func Decode(value []byte) (any, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return nil, fmt.Errorf("decoding analytics event: %w", err)
	}
	switch head.Type {
	case EventSearch, EventZeroResult:
		var ev SearchEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return nil, fmt.Errorf("decoding search event: %w", err)
		}
		return &ev, nil
	case EventReindex, EventUnindex:
		var ev IndexEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return nil, fmt.Errorf("decoding index event: %w", err)
		}
		return &ev, nil
	}
	return nil, fmt.Errorf("unknown analytics event type %q", head.Type)
}
