// Command analytics starts the standalone analytics aggregation service.
//
// It consumes search and index-change events from Kafka, aggregates them in
// memory (search totals, latency percentiles, cache hit rate, top queries and
// terms, reindex counts) and serves them at GET /api/v1/analytics/stats.
// With -snapshot-interval set, totals are also saved to PostgreSQL.
//
// Usage:
//
//	go run ./cmd/analytics [-config config.yaml] [-snapshot-interval 1m]
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
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/analytics/snapshot"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	snapshotInterval := flag.Duration("snapshot-interval", 0, "save aggregated stats to postgres this often (0 disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *snapshotInterval); err != nil {
		slog.Error("analytics service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}

func run(ctx context.Context, cfg *config.Config, snapshotInterval time.Duration) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	aggregator := analytics.NewAggregator()
	var history analytics.History
	checker := health.NewChecker()
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Port, prometheus.DefaultGatherer) })
	}

	// A separate group so analytics does not steal messages from other readers.
	kcfg := cfg.Kafka
	kcfg.ConsumerGroup += "-analytics"
	consumer := kafka.NewConsumer(kcfg, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(aggregator))
	g.Go(func() error { return consumer.Start(gctx) })
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.AnalyticsEvents, "group", kcfg.ConsumerGroup)

	if snapshotInterval > 0 {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres for snapshots: %w", err)
		}
		defer db.Close()
		snapshots := snapshot.NewStore(db)
		if err := snapshots.Migrate(ctx); err != nil {
			return err
		}
		checker.Register("postgres", health.PingCheck(db, health.StatusDegraded))
		history = snapshots
		g.Go(func() error { return snapshots.Run(gctx, aggregator, snapshotInterval) })
	}

	mux := http.NewServeMux()
	analytics.NewHandler(aggregator, history).Register(mux)
	checker.Mount(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m)),
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
		slog.Info("analytics service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}
