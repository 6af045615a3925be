// Package consumer drains the Kafka reindex queues into the indexing
// engine. Each queue name maps to its own topic and reader.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/queue"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/resilience"
)

// TaskConsumer wraps one Kafka consumer per queue.
type TaskConsumer struct {
	consumers []*kafka.Consumer
	logger    *slog.Logger
}

// New creates consumers for every queue in queues. Each task runs under
// timeout.
func New(cfg config.KafkaConfig, queues []string, exec queue.Executor, timeout time.Duration) *TaskConsumer {
	handler := HandleMessage(exec, timeout)
	consumers := make([]*kafka.Consumer, 0, len(queues))
	for _, q := range queues {
		consumers = append(consumers, kafka.NewConsumer(cfg, cfg.Topics.IndexTopic(q), handler))
	}
	return &TaskConsumer{
		consumers: consumers,
		logger:    slog.Default().With("component", "task-consumer"),
	}
}

// Start blocks until ctx is cancelled or a consumer fails.
func (tc *TaskConsumer) Start(ctx context.Context) error {
	tc.logger.Info("task consumer starting", "queues", len(tc.consumers))
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range tc.consumers {
		c := c
		g.Go(func() error { return c.Start(ctx) })
	}
	return g.Wait()
}

// Close closes every reader.
func (tc *TaskConsumer) Close() error {
	var result *multierror.Error
	for _, c := range tc.consumers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// HandleMessage returns a kafka.MessageHandler that decodes a ReindexTask
// and executes it. Undecodable messages and configuration errors are logged
// and committed since redelivery cannot fix them; any other failure leaves
// the message for redelivery.
func HandleMessage(exec queue.Executor, timeout time.Duration) kafka.MessageHandler {
	logger := slog.Default().With("component", "task-consumer")
	return func(ctx context.Context, msg kafka.Message) error {
		task, err := kafka.DecodeJSON[indexer.ReindexTask](msg.Value)
		if err != nil {
			logger.Error("failed to decode reindex task",
				"error", err,
				"topic", msg.Topic,
				"key", string(msg.Key),
			)
			return nil
		}
		if task.Queue == "" {
			task.Queue = msg.Headers[queue.QueueHeader]
		}

		logger.Debug("processing reindex task",
			"task_id", task.ID,
			"owner", task.Record.String(),
			"queue", task.Queue,
		)
		err = resilience.WithTimeout(ctx, timeout, "reindex-task", func(ctx context.Context) error {
			return exec.ExecuteTask(ctx, task)
		})
		if errors.Is(err, apperrors.ErrConfiguration) {
			logger.Error("dropping reindex task",
				"task_id", task.ID,
				"owner", task.Record.String(),
				"error", err,
			)
			return nil
		}
		return err
	}
}
