package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/counter"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/extract"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/metrics"
)

// DefaultQueue is used when Config.Queue is empty.
const DefaultQueue = "default"

// Operations reported to ChangeFunc.
const (
	OpReindex = "reindex"
	OpUnindex = "unindex"
)

// ChangeFunc is told about every owner whose index rows changed.
type ChangeFunc func(ctx context.Context, op string, owner store.Owner)

// Config wires an Engine. Identify is required.
type Config struct {
	Identify IdentifyFunc
	// Extractors defaults to extract.NewRegistry().
	Extractors *extract.Registry
	// Canonicalizer defaults to tokenizer.Default.
	Canonicalizer *tokenizer.Canonicalizer
	// Scheduler receives deferred work. Without one, deferred indexing is a
	// configuration error.
	Scheduler      Scheduler
	Queue          string
	DeferByDefault bool
	Retry          config.RetryConfig
	Metrics        *metrics.Metrics
	OnChange       ChangeFunc
}

// Engine keeps index records and global counters in step with the caller's
// records.
type Engine struct {
	store        store.Store
	counter      *counter.Counter
	identify     IdentifyFunc
	extractors   *extract.Registry
	canon        *tokenizer.Canonicalizer
	scheduler    Scheduler
	queue        string
	deferDefault bool
	metrics      *metrics.Metrics
	onChange     ChangeFunc
	logger       *slog.Logger
}

func New(st store.Store, cfg Config) (*Engine, error) {
	if st == nil {
		return nil, apperrors.Configf("indexer needs a store")
	}
	if cfg.Identify == nil {
		return nil, apperrors.Configf("indexer needs an identity function")
	}
	if cfg.Extractors == nil {
		cfg.Extractors = extract.NewRegistry()
	}
	if cfg.Canonicalizer == nil {
		cfg.Canonicalizer = tokenizer.Default
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	return &Engine{
		store:        st,
		counter:      counter.New(st, cfg.Retry, cfg.Metrics),
		identify:     cfg.Identify,
		extractors:   cfg.Extractors,
		canon:        cfg.Canonicalizer,
		scheduler:    cfg.Scheduler,
		queue:        cfg.Queue,
		deferDefault: cfg.DeferByDefault,
		metrics:      cfg.Metrics,
		onChange:     cfg.OnChange,
		logger:       logger.WithComponent("indexer"),
	}, nil
}

// Counter exposes the engine's global counter.
func (e *Engine) Counter() *counter.Counter {
	return e.counter
}

type indexOptions struct {
	deferred bool
	queue    string
}

// IndexOption adjusts a single Index call.
type IndexOption func(*indexOptions)

// WithDefer overrides the engine's deferral default.
func WithDefer(deferred bool) IndexOption {
	return func(o *indexOptions) { o.deferred = deferred }
}

// WithQueue schedules deferred work on queue instead of the default.
func WithQueue(queue string) IndexOption {
	return func(o *indexOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// Defers reports whether Index called outside a transaction with opts
// would schedule the work instead of doing it.
func (e *Engine) Defers(opts ...IndexOption) bool {
	o := indexOptions{deferred: e.deferDefault}
	for _, opt := range opts {
		opt(&o)
	}
	return o.deferred
}

// Index reindexes rec on fields. Inside a store transaction, or when
// deferral is on, the record is snapshotted and scheduled instead.
func (e *Engine) Index(ctx context.Context, rec any, fields []string, opts ...IndexOption) error {
	o := indexOptions{deferred: e.deferDefault, queue: e.queue}
	for _, opt := range opts {
		opt(&o)
	}
	if !store.InTransaction(ctx) && !o.deferred {
		e.countOp("index", "sync")
		return e.Reindex(ctx, rec, fields)
	}
	if e.scheduler == nil {
		return apperrors.Configf("deferred indexing requested but no scheduler is configured")
	}
	task, err := e.Snapshot(rec, fields, o.queue)
	if err != nil {
		return err
	}
	if err := e.scheduler.Schedule(ctx, o.queue, task); err != nil {
		return fmt.Errorf("scheduling reindex of %s: %w", task.Record, err)
	}
	e.countOp("index", "deferred")
	logger.FromContext(ctx).Debug("reindex deferred",
		"component", "indexer",
		"owner", task.Record.String(),
		"queue", o.queue,
		"task_id", task.ID,
	)
	return nil
}

// Reindex removes rec's index rows and builds them again from fields.
func (e *Engine) Reindex(ctx context.Context, rec any, fields []string) error {
	owner, err := e.ownerOf(rec)
	if err != nil {
		return err
	}
	return e.reindex(ctx, owner, rec, fields)
}

func (e *Engine) reindex(ctx context.Context, owner store.Owner, rec any, fields []string) error {
	if err := e.unindex(ctx, owner); err != nil {
		return err
	}
	written, err := e.applyIndex(ctx, owner, rec, fields)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("record indexed",
		"component", "indexer",
		"owner", owner.String(),
		"fields", len(fields),
		"terms", written,
	)
	e.changed(ctx, OpReindex, owner)
	return nil
}

// Unindex removes every index row of rec and gives its occurrences back to
// the global counters.
func (e *Engine) Unindex(ctx context.Context, rec any) error {
	owner, err := e.ownerOf(rec)
	if err != nil {
		return err
	}
	return e.UnindexOwner(ctx, owner)
}

// UnindexOwner is Unindex for callers that only hold the identity.
func (e *Engine) UnindexOwner(ctx context.Context, owner store.Owner) error {
	if err := e.unindex(ctx, owner); err != nil {
		return err
	}
	e.countOp("unindex", "sync")
	e.changed(ctx, OpUnindex, owner)
	return nil
}

func (e *Engine) unindex(ctx context.Context, owner store.Owner) error {
	rows, err := e.store.FindRecords(ctx, store.Filter{Owner: &owner})
	if err != nil {
		return fmt.Errorf("loading index records of %s: %w", owner, err)
	}
	var errs *multierror.Error
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		err := e.counter.Transact(ctx, OpUnindex, func(ctx context.Context, tx store.Tx) error {
			if err := tx.DeleteRecord(ctx, row); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					// Another unindex got here first.
					return nil
				}
				return err
			}
			return e.counter.DecrementTx(ctx, tx, row.Term, row.Occurrences)
		})
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("removing %q/%s of %s: %w", row.Term, row.Field, owner, err))
		}
	}
	if len(rows) > 0 {
		e.logger.Debug("index records removed", "owner", owner.String(), "records", len(rows))
	}
	return errs.ErrorOrNil()
}

// ApplyIndex writes rec's index rows for fields without removing old ones.
// Most callers want Reindex.
func (e *Engine) ApplyIndex(ctx context.Context, rec any, fields []string) error {
	owner, err := e.ownerOf(rec)
	if err != nil {
		return err
	}
	_, err = e.applyIndex(ctx, owner, rec, fields)
	return err
}

type fieldTerm struct {
	field string
	term  string
}

func (e *Engine) applyIndex(ctx context.Context, owner store.Owner, rec any, fields []string) (int, error) {
	var order []fieldTerm
	occurrences := make(map[fieldTerm]uint64)
	for _, field := range fields {
		texts, err := e.extractors.Texts(field, rec)
		if err != nil {
			return 0, fmt.Errorf("extracting %q of %s: %w", field, owner, err)
		}
		for _, text := range texts {
			for _, t := range e.canon.Terms(text) {
				key := fieldTerm{field: field, term: store.TruncateTerm(t.Term)}
				if _, seen := occurrences[key]; !seen {
					order = append(order, key)
				}
				occurrences[key] += t.Occurrences
			}
		}
	}

	var errs *multierror.Error
	written := 0
	for _, key := range order {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		row := store.IndexRecord{
			Term:        key.term,
			Field:       key.field,
			Occurrences: occurrences[key],
			Owner:       owner,
		}
		err := e.counter.Transact(ctx, "index", func(ctx context.Context, tx store.Tx) error {
			if err := tx.CreateRecord(ctx, row); err != nil {
				return err
			}
			return e.counter.IncrementTx(ctx, tx, row.Term, row.Occurrences)
		})
		switch {
		case errors.Is(err, store.ErrDuplicate):
			e.logger.Warn("index record already present, skipping",
				"owner", owner.String(), "field", key.field, "term", key.term)
		case err != nil:
			errs = multierror.Append(errs, fmt.Errorf("indexing %q/%s of %s: %w", key.term, key.field, owner, err))
		default:
			written++
		}
	}
	if e.metrics != nil {
		e.metrics.TermsPerRecord.Observe(float64(written))
	}
	return written, errs.ErrorOrNil()
}

// ExecuteTask runs a deferred reindex. The task itself is the record.
func (e *Engine) ExecuteTask(ctx context.Context, task ReindexTask) error {
	ctx = logger.WithTaskID(ctx, task.ID)
	start := time.Now()
	err := e.reindex(ctx, task.Record, task, task.Fields)

	status := "success"
	if err != nil {
		status = "failed"
		logger.FromContext(ctx).Error("reindex task failed",
			"component", "indexer",
			"owner", task.Record.String(),
			"queue", task.Queue,
			"error", err,
		)
	}
	if e.metrics != nil {
		e.metrics.IndexTasksTotal.WithLabelValues(task.Queue, status).Inc()
		e.metrics.IndexTaskDuration.WithLabelValues(task.Queue).Observe(time.Since(start).Seconds())
	}
	return err
}

func (e *Engine) ownerOf(rec any) (store.Owner, error) {
	var (
		owner store.Owner
		err   error
	)
	switch t := rec.(type) {
	case ReindexTask:
		owner = t.Record
	case *ReindexTask:
		owner = t.Record
	default:
		owner, err = e.identify(rec)
		if err != nil {
			return store.Owner{}, err
		}
	}
	if owner.Collection == "" || owner.Key == "" {
		return store.Owner{}, apperrors.Configf("record %T has an incomplete identity %q", rec, owner.String())
	}
	return owner, nil
}

func (e *Engine) countOp(op, mode string) {
	if e.metrics != nil {
		e.metrics.IndexOperationsTotal.WithLabelValues(op, mode).Inc()
	}
}

func (e *Engine) changed(ctx context.Context, op string, owner store.Owner) {
	if e.onChange != nil {
		e.onChange(ctx, op, owner)
	}
}
