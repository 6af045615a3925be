// Package postgres is the lib/pq store backend. Transactions run at
// SERIALIZABLE isolation and lock counter rows with SELECT ... FOR UPDATE;
// serialization failures surface as store.ErrConflict.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	pkgpostgres "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/postgres"
)

//go:embed schema.sql
var schema string

const (
	getCounterQuery      = "SELECT term, count, version FROM global_occurrence_counts WHERE term = $1"
	getCountersQuery     = "SELECT term, count, version FROM global_occurrence_counts WHERE term = ANY($1)"
	deleteCounterQuery   = "DELETE FROM global_occurrence_counts WHERE term = $1"
	insertRecordQuery    = "INSERT INTO index_records (term, field, occurrences, collection, owner_key) VALUES ($1, $2, $3, $4, $5)"
	deleteRecordQuery    = "DELETE FROM index_records WHERE term = $1 AND field = $2 AND collection = $3 AND owner_key = $4"
	termsQuery           = "SELECT term FROM global_occurrence_counts UNION SELECT term FROM index_records ORDER BY term"
	findRecordsBaseQuery = "SELECT term, field, occurrences, collection, owner_key FROM index_records"

	putCounterQuery = `
INSERT INTO global_occurrence_counts (term, count) VALUES ($1, $2)
ON CONFLICT (term) DO UPDATE SET count = EXCLUDED.count, version = global_occurrence_counts.version + 1
`
	addCounterQuery = `
INSERT INTO global_occurrence_counts (term, count) VALUES ($1, $2)
ON CONFLICT (term) DO UPDATE SET count = global_occurrence_counts.count + EXCLUDED.count, version = global_occurrence_counts.version + 1
RETURNING count
`
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists index records and counters in PostgreSQL.
type Store struct {
	client *pkgpostgres.Client
	reader
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an open client. Call Migrate before first use on a fresh
// database.
func New(client *pkgpostgres.Client) *Store {
	return &Store{
		client: client,
		reader: reader{q: client.DB},
		logger: slog.Default().With("component", "postgres-store"),
	}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	s.logger.Info("schema applied")
	return nil
}

// RunInTx runs fn in a serializable transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	txCtx := store.WithTransaction(ctx)
	return s.client.InTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(txCtx, &tx{reader: reader{q: sqlTx, forUpdate: true}, sqlTx: sqlTx})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) Close() error {
	return s.client.Close()
}

// reader implements store.Reader over either the pool or a transaction.
// Inside a transaction counter reads take row locks.
type reader struct {
	q         querier
	forUpdate bool
}

func (r reader) GetCounter(ctx context.Context, term string) (store.Counter, error) {
	query := getCounterQuery
	if r.forUpdate {
		query += " FOR UPDATE"
	}
	var c store.Counter
	err := r.q.QueryRowContext(ctx, query, term).Scan(&c.Term, &c.Count, &c.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Counter{}, fmt.Errorf("counter %q: %w", term, store.ErrNotFound)
	}
	if err != nil {
		return store.Counter{}, fmt.Errorf("get counter %q: %w", term, pkgpostgres.MapError(err))
	}
	return c, nil
}

func (r reader) GetCounters(ctx context.Context, terms []string) (map[string]store.Counter, error) {
	out := make(map[string]store.Counter, len(terms))
	if len(terms) == 0 {
		return out, nil
	}
	query := getCountersQuery
	if r.forUpdate {
		query += " FOR UPDATE"
	}
	rows, err := r.q.QueryContext(ctx, query, pq.Array(terms))
	if err != nil {
		return nil, fmt.Errorf("get counters: %w", pkgpostgres.MapError(err))
	}
	defer rows.Close()
	for rows.Next() {
		var c store.Counter
		if err := rows.Scan(&c.Term, &c.Count, &c.Version); err != nil {
			return nil, fmt.Errorf("scanning counter: %w", err)
		}
		out[c.Term] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get counters: %w", pkgpostgres.MapError(err))
	}
	return out, nil
}

func (r reader) FindRecords(ctx context.Context, f store.Filter) ([]store.IndexRecord, error) {
	query, args := buildFindQuery(f)
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find records: %w", pkgpostgres.MapError(err))
	}
	defer rows.Close()
	out := make([]store.IndexRecord, 0)
	for rows.Next() {
		var rec store.IndexRecord
		if err := rows.Scan(&rec.Term, &rec.Field, &rec.Occurrences, &rec.Owner.Collection, &rec.Owner.Key); err != nil {
			return nil, fmt.Errorf("scanning index record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find records: %w", pkgpostgres.MapError(err))
	}
	return out, nil
}

func (r reader) Terms(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, termsQuery)
	if err != nil {
		return nil, fmt.Errorf("listing terms: %w", pkgpostgres.MapError(err))
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, fmt.Errorf("scanning term: %w", err)
		}
		out = append(out, term)
	}
	return out, rows.Err()
}

// buildFindQuery renders f as a WHERE clause. Rows come back in insertion
// order so ties in ranking are stable across backends.
func buildFindQuery(f store.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(f.Terms) > 0 {
		add("term = ANY($%d)", pq.Array(f.Terms))
	}
	if f.Owner != nil {
		add("collection = $%d", f.Owner.Collection)
		add("owner_key = $%d", f.Owner.Key)
	}
	if f.Collection != "" {
		add("collection = $%d", f.Collection)
	}
	if len(f.Fields) > 0 {
		add("field = ANY($%d)", pq.Array(f.Fields))
	}
	var b strings.Builder
	b.WriteString(findRecordsBaseQuery)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY id")
	return b.String(), args
}

type tx struct {
	reader
	sqlTx *sql.Tx
}

func (t *tx) CreateRecord(ctx context.Context, rec store.IndexRecord) error {
	rec.Term = store.TruncateTerm(rec.Term)
	_, err := t.sqlTx.ExecContext(ctx, insertRecordQuery,
		rec.Term, rec.Field, rec.Occurrences, rec.Owner.Collection, rec.Owner.Key)
	if err != nil {
		return fmt.Errorf("create index record %q for %s: %w", rec.Term, rec.Owner, pkgpostgres.MapError(err))
	}
	return nil
}

func (t *tx) DeleteRecord(ctx context.Context, rec store.IndexRecord) error {
	res, err := t.sqlTx.ExecContext(ctx, deleteRecordQuery,
		rec.Term, rec.Field, rec.Owner.Collection, rec.Owner.Key)
	if err != nil {
		return fmt.Errorf("delete index record %q for %s: %w", rec.Term, rec.Owner, pkgpostgres.MapError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("index record %q for %s: %w", rec.Term, rec.Owner, store.ErrNotFound)
	}
	return nil
}

func (t *tx) PutCounter(ctx context.Context, term string, count uint64) error {
	if _, err := t.sqlTx.ExecContext(ctx, putCounterQuery, store.TruncateTerm(term), count); err != nil {
		return fmt.Errorf("put counter %q: %w", term, pkgpostgres.MapError(err))
	}
	return nil
}

func (t *tx) DeleteCounter(ctx context.Context, term string) error {
	if _, err := t.sqlTx.ExecContext(ctx, deleteCounterQuery, term); err != nil {
		return fmt.Errorf("delete counter %q: %w", term, pkgpostgres.MapError(err))
	}
	return nil
}

func (t *tx) AddCounter(ctx context.Context, term string, delta uint64) (uint64, error) {
	var count uint64
	err := t.sqlTx.QueryRowContext(ctx, addCounterQuery, store.TruncateTerm(term), delta).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("add counter %q: %w", term, pkgpostgres.MapError(err))
	}
	return count, nil
}
