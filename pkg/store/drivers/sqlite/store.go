// Package sqlite implements store.Store on an embedded SQLite
// database. It is the durable single-node option: sessions and the
// revocation blacklist land in one file that survives restarts, and
// the per-identity concurrency cap is enforced inside a transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	dsn string
	now func() time.Time
}

func NewStore(dsn string) (*Store, error) {
	return NewStoreWithClock(dsn, time.Now)
}

// NewStoreWithClock is NewStore with an injectable clock, so tests can
// drive revocation expiry without sleeping.
func NewStoreWithClock(dsn string, now func() time.Time) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Enforce FKs
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Every pool connection to :memory: gets its own empty database,
	// so keep the pool at one.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	return &Store{
		db:  db,
		dsn: dsn,
		now: now,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Sessions() store.Sessions {
	return &sessionsRepo{db: s.db}
}

func (s *Store) Revocations() store.Revocations {
	return &revocationsRepo{db: s.db, now: s.now}
}

// withTx executes fn within a transaction, automatically handling
// commit/rollback.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Ensure rollback is called if we panic or return early with error
	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err // rollback happens in defer
	}

	return tx.Commit()
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
