// Package store persists contacts over database/sql. Every method runs on
// the transaction carried by its context when there is one, so callers can
// group a read-modify-write sequence with WithinTx.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/dawgdevv/bitespeed/internal/database"
)

// ErrNoTx is returned by operations that only make sense inside WithinTx.
var ErrNoTx = errors.New("store: operation requires a transaction")

type txKey struct{}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the contact table.
type Store struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store over an opened database.
func New(db *database.DB, opts ...Option) *Store {
	s := &Store{db: db.Conn, dialect: db.Dialect, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithinTx runs fn in a transaction. The transaction commits when fn
// returns nil and rolls back otherwise, including on panic. Calls nested
// inside fn join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// LockKeys takes transaction-scoped exclusive locks on the given keys, in
// sorted order. On sqlite the transaction already holds the database write
// lock from BEGIN IMMEDIATE, so only the transaction check applies.
func (s *Store) LockKeys(ctx context.Context, keys ...string) error {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	if !ok {
		return ErrNoTx
	}
	if s.dialect != database.DialectPostgres {
		return nil
	}
	for _, id := range lockIDs(keys) {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, id); err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
	}
	return nil
}

// lockIDs maps keys to sorted, distinct advisory lock ids.
func lockIDs(keys []string) []int64 {
	seen := make(map[int64]struct{}, len(keys))
	ids := make([]int64, 0, len(keys))
	for _, key := range keys {
		h := fnv.New64a()
		_, _ = h.Write([]byte(key))
		id := int64(h.Sum64())
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) conn(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// timestamp is the store clock in UTC at the precision both dialects keep.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
