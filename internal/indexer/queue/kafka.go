package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
)

// QueueHeader carries the queue name on every published task.
const QueueHeader = "queue"

// Publisher is the write side of a Kafka topic.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
	Close() error
}

// Kafka publishes each task as JSON to the topic derived from its queue
// name. Tasks for one record share a partition key, so a single consumer
// sees them in order.
type Kafka struct {
	topic        func(queue string) string
	newPublisher func(topic string) Publisher

	mu         sync.Mutex
	publishers map[string]Publisher
	logger     *slog.Logger
}

func NewKafka(cfg config.KafkaConfig) *Kafka {
	return newKafka(cfg.Topics.IndexTopic, func(topic string) Publisher {
		return kafka.NewProducer(cfg, topic)
	})
}

func newKafka(topic func(string) string, newPublisher func(string) Publisher) *Kafka {
	return &Kafka{
		topic:        topic,
		newPublisher: newPublisher,
		publishers:   make(map[string]Publisher),
		logger:       logger.WithComponent("kafka-queue"),
	}
}

func (k *Kafka) Schedule(ctx context.Context, queue string, task indexer.ReindexTask) error {
	task.Queue = queue
	topic := k.topic(queue)
	err := k.publisher(topic).Publish(ctx, kafka.Event{
		Key:     task.Record.String(),
		Value:   task,
		Headers: map[string]string{QueueHeader: queue},
	})
	if err != nil {
		return fmt.Errorf("scheduling task %s on %s: %w", task.ID, topic, err)
	}
	return nil
}

func (k *Kafka) publisher(topic string) Publisher {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.publishers[topic]
	if !ok {
		p = k.newPublisher(topic)
		k.publishers[topic] = p
		k.logger.Info("publisher opened", "topic", topic)
	}
	return p
}

// Close flushes and closes every publisher.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var errs *multierror.Error
	for topic, p := range k.publishers {
		if err := p.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing %s: %w", topic, err))
		}
		delete(k.publishers, topic)
	}
	return errs.ErrorOrNil()
}
