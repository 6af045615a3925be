// Command recount rebuilds global term counts from the index records. Run it
// after a crash or a manual edit leaves counters and records disagreeing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/counter"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store/backend"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	term := flag.String("term", "", "recount a single canonical term instead of every term")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := backend.Open(ctx, cfg)
	if err != nil {
		slog.Error("opening store failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	c := counter.New(db.Store, cfg.Indexer.Retry, nil)
	start := time.Now()

	if *term != "" {
		count, err := c.Recompute(ctx, *term)
		if err != nil {
			slog.Error("recount failed", "term", *term, "error", err)
			os.Exit(1)
		}
		slog.Info("term recounted", "term", *term, "count", count, "took", time.Since(start))
		return
	}

	n, err := c.RecomputeAll(ctx)
	if err != nil {
		slog.Error("recount finished with errors", "recounted", n, "error", err)
		os.Exit(1)
	}
	slog.Info("recount complete", "terms", n, "took", time.Since(start))
}
