// Package snapshot persists aggregated analytics stats to PostgreSQL so
// totals survive an analytics service restart.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Source produces the stats to persist. *analytics.Aggregator implements
// it.
type Source interface {
	Stats() analytics.AggregatedStats
}

type Entry = analytics.Snapshot

type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "analytics-snapshots"),
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating analytics_snapshots: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
		data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Debug("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"reindexed", stats.Reindexed,
	)
	return nil
}

// Latest returns nil, nil when nothing has been saved yet.
func (s *Store) Latest(ctx context.Context) (*Entry, error) {
	entries, err := s.List(ctx, 1)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// List returns up to limit snapshots, newest first. Rows that no longer
// decode are skipped.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT data, captured_at FROM analytics_snapshots ORDER BY captured_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			data []byte
			e    Entry
		)
		if err := rows.Scan(&data, &e.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if err := json.Unmarshal(data, &e.Stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading snapshots: %w", err)
	}
	return entries, nil
}

// Recent implements analytics.History.
func (s *Store) Recent(ctx context.Context, limit int) ([]analytics.Snapshot, error) {
	return s.List(ctx, limit)
}

// Run saves src every interval until ctx is cancelled, then saves once more.
func (s *Store) Run(ctx context.Context, src Source, interval time.Duration) error {
	s.logger.Info("periodic snapshot started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Save(ctx, src.Stats()); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.Save(shutdownCtx, src.Stats())
		}
	}
}
