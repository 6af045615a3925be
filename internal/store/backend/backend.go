// Package backend opens the store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store/memory"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/health"
	pkgpostgres "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/postgres"
)

// Backend is an open store. Pinger is nil for the in-memory store, which
// has nothing to check.
type Backend struct {
	Store  store.Store
	Pinger health.Pinger
	close  func() error
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects to the configured store. The postgres schema is applied on
// every open; it only creates what is missing.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.Indexer.Store {
	case "memory":
		slog.Warn("using in-memory store; the index is lost on restart and not shared between processes")
		return &Backend{Store: memory.New()}, nil
	case "postgres":
		client, err := pkgpostgres.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		st := postgres.New(client)
		if err := st.Migrate(ctx); err != nil {
			client.Close()
			return nil, err
		}
		slog.Info("postgres store ready", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return &Backend{Store: st, Pinger: st, close: st.Close}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Indexer.Store)
}
