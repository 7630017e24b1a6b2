// Package dbx provides tiny DB abstractions shared by repositories:
// a minimal interface (DBTX) implemented by both *sql.DB and *sql.Tx,
// a Database that can also open transactions, and a helper to run
// functions inside a transaction.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql used by our repos.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Database is a non-transactional handle that can also run a function
// inside a transaction. Services depend on it instead of *sql.DB so the
// in-memory store can provide its own transaction semantics.
type Database interface {
	DBTX
	InTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error
}

// SQLDatabase adapts *sql.DB to Database.
type SQLDatabase struct {
	*sql.DB
	opts *sql.TxOptions
}

// NewDatabase wraps db. opts may be nil for the driver default isolation level.
func NewDatabase(db *sql.DB, opts *sql.TxOptions) *SQLDatabase {
	return &SQLDatabase{DB: db, opts: opts}
}

// InTx runs fn through WithTx.
func (d *SQLDatabase) InTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	return WithTx(ctx, d.DB, d.opts, fn)
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// Typical use:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    // use tx instead of db
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
