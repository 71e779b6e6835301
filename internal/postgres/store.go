// Package postgres implements orders.Store and orders.Catalog on PostgreSQL through pgx.
//
// Every engine operation runs in one READ COMMITTED transaction. Row locks (SELECT ... FOR UPDATE)
// serialise writers on the same order and the same stock counters; lock waits are bounded by
// lock_timeout and surface as concurrency errors so the caller can retry.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

const DefaultLockTimeout = 5 * time.Second

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	DB          DB
	LockTimeout time.Duration
}

func New(db DB) *Store {
	return &Store{DB: db, LockTimeout: DefaultLockTimeout}
}

// InTx implements orders.Store.
func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	ptx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = ptx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if s.LockTimeout > 0 {
		if _, err := ptx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.LockTimeout.Milliseconds())); err != nil {
			return mapErr(err)
		}
	}
	if err := fn(&tx{q: ptx}); err != nil {
		return mapErr(err)
	}
	if err := ptx.Commit(ctx); err != nil {
		committed = true // the tx is closed either way
		if isConcurrency(err) {
			return orders.Concurrency(err)
		}
		return &orders.Error{Kind: orders.KindSystem, Code: orders.CodeCommitFailed, Message: "commit failed", Err: err}
	}
	committed = true
	return nil
}

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

func isConcurrency(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return true
	}
	return false
}

// mapErr turns driver errors into *orders.Error where a kind is known and leaves the rest for the
// caller to wrap.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := orders.AsError(err); ok {
		return err
	}
	if isConcurrency(err) {
		return orders.Concurrency(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return orders.Duplicate(pgErr.ConstraintName+" already exists", err)
	}
	return err
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.NotFound(what, id)
	}
	return mapErr(err)
}

// nullLimit maps a non-positive limit to NULL, which Postgres reads as no limit.
func nullLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type tx struct {
	q querier
}

var (
	_ orders.Store   = (*Store)(nil)
	_ orders.Catalog = (*Store)(nil)
	_ orders.Tx      = (*tx)(nil)
)
