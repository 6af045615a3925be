package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store/backend"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	queues := flag.String("queues", "", "comma-separated queues to consume (default: indexer.queue)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	names := splitQueues(*queues, cfg.Indexer.Queue)
	slog.Info("starting indexer service", "queues", names, "store", cfg.Indexer.Store)
	if cfg.Indexer.Store == "memory" {
		slog.Warn("indexer service is writing to a private in-memory store; searchers will not see its work")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, names); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

func run(ctx context.Context, cfg *config.Config, queues []string) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	db, err := backend.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	// Search results cached by the search service go stale as tasks land.
	var queryCache *cache.QueryCache
	if cfg.Search.CacheEnabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, cached search results will expire by TTL only", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
		}
	}

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	collector := analytics.NewCollector(analyticsProducer, 10000, 100, 5*time.Second)

	// No scheduler: every task consumed here is executed in place.
	engine, err := indexer.New(db.Store, indexer.Config{
		Identify: indexer.IdentifyOwner,
		Queue:    cfg.Indexer.Queue,
		Retry:    cfg.Indexer.Retry,
		Metrics:  m,
		OnChange: func(ctx context.Context, op string, owner store.Owner) {
			collector.TrackChange(ctx, op, owner)
			if queryCache == nil {
				return
			}
			if _, err := queryCache.Invalidate(ctx); err != nil {
				logger.FromContext(ctx).Warn("cache invalidation failed", "owner", owner.String(), "error", err)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("creating indexer: %w", err)
	}

	tasks := consumer.New(cfg.Kafka, queues, engine, cfg.Indexer.TaskTimeout)
	defer tasks.Close()

	slog.Info("indexer service ready, consuming from kafka",
		"prefix", cfg.Kafka.Topics.IndexTasksPrefix,
		"group", cfg.Kafka.ConsumerGroup,
	)
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Port, prometheus.DefaultGatherer) })
	}
	g.Go(func() error { return collector.Run(gctx) })
	g.Go(func() error { return tasks.Start(gctx) })
	return g.Wait()
}

func splitQueues(flagValue, fallback string) []string {
	var out []string
	for _, q := range strings.Split(flagValue, ",") {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		out = []string{fallback}
	}
	return out
}
