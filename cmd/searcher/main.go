package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/queue"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/searcher/executor"
	searchhandler "github.com/Adithya-Monish-Kumar-K/simplesearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store/backend"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"store", cfg.Indexer.Store,
		"scheduler", cfg.Indexer.Scheduler,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	db, err := backend.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	checker := health.NewChecker()
	if db.Pinger != nil {
		checker.Register("postgres", health.PingCheck(db.Pinger, health.StatusDown))
	}

	var queryCache *cache.QueryCache
	if cfg.Search.CacheEnabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", health.PingCheck(redisClient, health.StatusDegraded))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	collector := analytics.NewCollector(analyticsProducer, 10000, 100, 5*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Port, prometheus.DefaultGatherer) })
	}

	var (
		scheduler indexer.Scheduler
		local     *queue.Local
	)
	switch cfg.Indexer.Scheduler {
	case "kafka":
		kq := queue.NewKafka(cfg.Kafka)
		defer kq.Close()
		scheduler = kq
	default:
		local = queue.NewLocal(cfg.Indexer.Workers, 1024, cfg.Indexer.TaskTimeout)
		scheduler = local
	}

	engine, err := indexer.New(db.Store, indexer.Config{
		Identify:       indexer.IdentifyOwner,
		Scheduler:      scheduler,
		Queue:          cfg.Indexer.Queue,
		DeferByDefault: cfg.Indexer.DeferByDefault,
		Retry:          cfg.Indexer.Retry,
		Metrics:        m,
		OnChange:       onChange(queryCache, collector),
	})
	if err != nil {
		return fmt.Errorf("creating indexer: %w", err)
	}
	if local != nil {
		g.Go(func() error { return local.Run(gctx, engine) })
	}
	g.Go(func() error { return collector.Run(gctx) })

	exec := executor.New(db.Store, engine.Counter(), cfg.Search, nil, m)
	searcher := cache.NewSearcher(exec, queryCache, m)

	mux := http.NewServeMux()
	searchhandler.New(searcher, queryCache, collector).Register(mux)
	handler.New(publisher.New(engine)).Register(mux)
	checker.Mount(mux)

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.CORS(cfg.Server.CORSOrigins),
		middleware.Metrics(m),
	}
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
		g.Go(func() error { return limiter.Run(gctx, 5*time.Minute) })
		mws = append(mws, middleware.RateLimit(limiter))
	}
	mws = append(mws, middleware.Timeout(cfg.Server.WriteTimeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, mws...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// onChange drops cached results and reports the change to analytics.
func onChange(qc *cache.QueryCache, collector *analytics.Collector) indexer.ChangeFunc {
	return func(ctx context.Context, op string, owner store.Owner) {
		collector.TrackChange(ctx, op, owner)
		if qc == nil {
			return
		}
		if _, err := qc.Invalidate(ctx); err != nil {
			logger.FromContext(ctx).Warn("cache invalidation after index change failed",
				"owner", owner.String(),
				"op", op,
				"error", err,
			)
		}
	}
}
