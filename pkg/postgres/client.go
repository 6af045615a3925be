// Package postgres wraps database/sql with lib/pq, running every write
// transaction at SERIALIZABLE isolation and translating serialization
// failures into errors.ErrConflict so callers can retry them.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
)

// SQLSTATE codes lib/pq reports for retryable and constraint failures.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

func New(cfg config.PostgresConfig) (*Client, error) {
	return Open(cfg.DSN(), cfg)
}

// Open connects using an explicit DSN. Tests use it with SP_TEST_POSTGRES_DSN.
func Open(dsn string, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// InTx runs fn inside a serializable transaction. Serialization failures and
// deadlocks, whether raised by a statement or by COMMIT, come back wrapping
// apperrors.ErrConflict.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", MapError(err))
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, MapError(err))
		}
		return MapError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", MapError(err))
	}

	return nil
}

// MapError translates lib/pq errors into the shared sentinels. Errors that
// already carry a sentinel, or that are not *pq.Error, pass through.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", apperrors.ErrConflict, pqErr.Message)
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicate, pqErr.Message)
	}
	return err
}
