// Package queue provides Schedulers for deferred reindex tasks: an
// in-process worker pool and a Kafka-backed queue drained by cmd/indexer.
package queue

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/resilience"
)

// ErrStopped is returned by Schedule once the pool has shut down.
var ErrStopped = errors.New("queue stopped")

// Executor runs a reindex task. *indexer.Engine implements it.
type Executor interface {
	ExecuteTask(ctx context.Context, task indexer.ReindexTask) error
}

// Local runs tasks on a fixed set of goroutines. Queue names are recorded
// on the task but all queues share the pool. Every task for one record goes
// to the same worker, so a record's tasks run one at a time in scheduling
// order.
type Local struct {
	tasks   []chan indexer.ReindexTask
	done    chan struct{}
	timeout time.Duration
	logger  *slog.Logger
}

// NewLocal creates a pool of workers, each with room for buffer pending
// tasks. Each task runs under timeout; zero disables it.
func NewLocal(workers, buffer int, timeout time.Duration) *Local {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	tasks := make([]chan indexer.ReindexTask, workers)
	for i := range tasks {
		tasks[i] = make(chan indexer.ReindexTask, buffer)
	}
	return &Local{
		tasks:   tasks,
		done:    make(chan struct{}),
		timeout: timeout,
		logger:  logger.WithComponent("local-queue"),
	}
}

func (l *Local) worker(task indexer.ReindexTask) int {
	h := fnv.New32a()
	h.Write([]byte(task.Record.String()))
	return int(h.Sum32() % uint32(len(l.tasks)))
}

// Schedule blocks while the record's worker has a full buffer.
func (l *Local) Schedule(ctx context.Context, queue string, task indexer.ReindexTask) error {
	task.Queue = queue
	select {
	case l.tasks[l.worker(task)] <- task:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports the number of buffered tasks.
func (l *Local) Pending() int {
	n := 0
	for _, tasks := range l.tasks {
		n += len(tasks)
	}
	return n
}

// Run starts the workers and blocks until ctx is cancelled. Tasks still
// buffered at that point are dropped; reindexing the record again recovers
// them.
func (l *Local) Run(ctx context.Context, exec Executor) error {
	defer close(l.done)
	l.logger.Info("workers starting", "workers", len(l.tasks))

	g, ctx := errgroup.WithContext(ctx)
	for i, tasks := range l.tasks {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case task := <-tasks:
					l.run(ctx, exec, i, task)
				}
			}
		})
	}
	err := g.Wait()
	if n := l.Pending(); n > 0 {
		l.logger.Warn("workers stopped with tasks pending", "pending", n)
	}
	return err
}

func (l *Local) run(ctx context.Context, exec Executor, worker int, task indexer.ReindexTask) {
	err := resilience.WithTimeout(ctx, l.timeout, "reindex-task", func(ctx context.Context) error {
		return exec.ExecuteTask(ctx, task)
	})
	if err != nil {
		l.logger.Error("task failed",
			"worker", worker,
			"task_id", task.ID,
			"owner", task.Record.String(),
			"error", err,
		)
	}
}
