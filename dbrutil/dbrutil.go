/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package dbrutil provides helpers for working with the github.com/gocraft/dbr query builder:
// opening instrumented connections, running functions in transactions and event receivers
// that collect query metrics and log slow queries.
package dbrutil

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gocraft/dbr/v2"
	"github.com/gocraft/dbr/v2/dialect"

	"github.com/acronis/go-schemakit"
)

// Open opens a new database connection pool, configures it and wraps it into dbr.Connection.
func Open(cfg *schemakit.Config, ping bool, eventReceiver dbr.EventReceiver) (*dbr.Connection, error) {
	db, err := schemakit.Open(cfg, ping)
	if err != nil {
		return nil, err
	}
	conn, err := NewConnection(db, cfg.Dialect, eventReceiver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return conn, nil
}

// NewConnection wraps an already opened database into dbr.Connection.
// A nil eventReceiver is replaced with dbr.NullEventReceiver.
func NewConnection(db *sql.DB, d schemakit.Dialect, eventReceiver dbr.EventReceiver) (*dbr.Connection, error) {
	dbrDialect, err := DialectOf(d)
	if err != nil {
		return nil, err
	}
	if eventReceiver == nil {
		eventReceiver = &dbr.NullEventReceiver{}
	}
	return &dbr.Connection{DB: db, Dialect: dbrDialect, EventReceiver: eventReceiver}, nil
}

// DialectOf returns the dbr dialect for the SQL dialect.
func DialectOf(d schemakit.Dialect) (dbr.Dialect, error) {
	switch d {
	case schemakit.DialectSQLite:
		return dialect.SQLite3, nil
	case schemakit.DialectMySQL:
		return dialect.MySQL, nil
	case schemakit.DialectPostgres, schemakit.DialectPgx:
		return dialect.PostgreSQL, nil
	case schemakit.DialectMSSQL:
		return dialect.MSSQL, nil
	}
	return nil, fmt.Errorf("unsupported dialect: %s", d)
}

// TxRunner can begin a new transaction and execute the passed function within it.
type TxRunner interface {
	DoInTx(ctx context.Context, fn func(tx dbr.SessionRunner) error) error
}

type txRunner struct {
	sess   *dbr.Session
	txOpts *sql.TxOptions
}

// NewTxRunner creates a new TxRunner. If eventReceiver is nil, the one of the connection is used.
func NewTxRunner(conn *dbr.Connection, txOpts *sql.TxOptions, eventReceiver dbr.EventReceiver) TxRunner {
	return &txRunner{sess: conn.NewSession(eventReceiver), txOpts: txOpts}
}

// DoInTx begins a new transaction, calls the passed function and commits or rolls back the transaction
// depending on whether the function returns an error or not. A panic rolls the transaction back and is re-raised.
func (r *txRunner) DoInTx(ctx context.Context, fn func(tx dbr.SessionRunner) error) (err error) {
	tx, err := r.sess.BeginTx(ctx, r.txOpts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.RollbackUnlessCommitted()
			panic(p)
		}
		if err != nil {
			tx.RollbackUnlessCommitted()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Querier adapts dbr.SessionRunner to the database/sql QueryContext signature,
// so raw queries run through dbr and reach its event receiver.
type Querier struct {
	Runner dbr.SessionRunner
	// Annotation, if set, is prepended to every query as a comment.
	Annotation string
}

// QueryContext executes a raw query and returns its rows.
func (q Querier) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if q.Annotation != "" {
		query = Annotate(query, q.Annotation)
	}
	return q.Runner.SelectBySql(query, args...).RowsContext(ctx)
}
