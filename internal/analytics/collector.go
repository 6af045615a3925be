package analytics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
)

// Publisher writes a batch of events. *kafka.Producer implements it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector buffers events and publishes them in batches, either when a
// batch fills up or when the flush interval passes. Track never blocks; when
// the buffer is full the event is dropped.
type Collector struct {
	pub           Publisher
	eventCh       chan kafka.Event
	batchSize     int
	flushInterval time.Duration
	pending       []kafka.Event
	dropped       atomic.Int64
	logger        *slog.Logger
}

func NewCollector(pub Publisher, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		pub:           pub,
		eventCh:       make(chan kafka.Event, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
	}
}

// Run publishes tracked events until ctx is cancelled, then flushes what is
// left with a short deadline.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.eventCh:
			c.pending = append(c.pending, ev)
			if len(c.pending) >= c.batchSize {
				c.flush(ctx)
			}
		case <-ticker.C:
			c.flush(ctx)
		case <-ctx.Done():
			c.drain()
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.flush(flushCtx)
			cancel()
			return nil
		}
	}
}

func (c *Collector) Track(key string, value any) {
	select {
	case c.eventCh <- kafka.Event{Key: key, Value: value}:
	default:
		c.dropped.Add(1)
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

func (c *Collector) TrackSearch(ev SearchEvent) {
	if ev.Type == "" {
		ev.Type = EventSearch
		if ev.Returned == 0 {
			ev.Type = EventZeroResult
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	c.Track(ev.Query, ev)
}

// TrackChange has the shape of indexer.ChangeFunc so it can be handed to the
// engine directly.
func (c *Collector) TrackChange(ctx context.Context, op string, owner store.Owner) {
	typ := EventReindex
	if op == indexer.OpUnindex {
		typ = EventUnindex
	}
	c.Track(owner.String(), IndexEvent{
		Type:       typ,
		Collection: owner.Collection,
		Key:        owner.Key,
		Timestamp:  time.Now().UTC(),
		RequestID:  logger.RequestID(ctx),
	})
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Collector) drain() {
	for {
		select {
		case ev := <-c.eventCh:
			c.pending = append(c.pending, ev)
		default:
			return
		}
	}
}

// flush keeps a failed batch for the next attempt, up to three batches'
// worth of events.
func (c *Collector) flush(ctx context.Context) {
	if len(c.pending) == 0 {
		return
	}
	batch := c.pending
	c.pending = nil
	if err := c.pub.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		limit := c.batchSize * 3
		if len(batch) > limit {
			c.dropped.Add(int64(len(batch) - limit))
			c.logger.Warn("analytics backlog overflow, events dropped", "dropped", len(batch)-limit)
			batch = batch[len(batch)-limit:]
		}
		c.pending = batch
		return
	}
	c.logger.Debug("batch flushed", "events", len(batch))
}
