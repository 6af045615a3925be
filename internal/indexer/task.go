package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/extract"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
)

// Scheduler hands a reindex task to a worker pool or queue to run later.
// Delivery may be at-least-once; reindexing is idempotent.
type Scheduler interface {
	Schedule(ctx context.Context, queue string, task ReindexTask) error
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(ctx context.Context, queue string, task ReindexTask) error

func (f SchedulerFunc) Schedule(ctx context.Context, queue string, task ReindexTask) error {
	return f(ctx, queue, task)
}

// IdentifyFunc returns the owner identity of a record.
type IdentifyFunc func(rec any) (store.Owner, error)

// IdentifyOwner identifies records that implement extract.Identifiable.
func IdentifyOwner(rec any) (store.Owner, error) {
	id, ok := rec.(extract.Identifiable)
	if !ok {
		return store.Owner{}, apperrors.Configf("record type %T does not declare an owner identity", rec)
	}
	return id.Owner(), nil
}

// ReindexTask is a deferred reindex of one record. It carries the field
// texts as they were when the task was scheduled, so workers never read the
// caller's record.
type ReindexTask struct {
	ID        string              `json:"id"`
	Queue     string              `json:"queue"`
	Record    store.Owner         `json:"record"`
	Fields    []string            `json:"fields"`
	Values    map[string][]string `json:"values"`
	CreatedAt time.Time           `json:"created_at"`
}

func (t ReindexTask) Owner() store.Owner { return t.Record }

func (t ReindexTask) FieldValues(field string) ([]string, error) {
	return t.Values[field], nil
}

func (t ReindexTask) SearchFields() []string { return t.Fields }

// Snapshot captures rec's identity and the text of each field into a task
// bound for queue.
func (e *Engine) Snapshot(rec any, fields []string, queue string) (ReindexTask, error) {
	owner, err := e.ownerOf(rec)
	if err != nil {
		return ReindexTask{}, err
	}
	values := make(map[string][]string, len(fields))
	for _, field := range fields {
		texts, err := e.extractors.Texts(field, rec)
		if err != nil {
			return ReindexTask{}, fmt.Errorf("extracting %q: %w", field, err)
		}
		values[field] = texts
	}
	return ReindexTask{
		ID:        uuid.NewString(),
		Queue:     queue,
		Record:    owner,
		Fields:    append([]string(nil), fields...),
		Values:    values,
		CreatedAt: time.Now().UTC(),
	}, nil
}
