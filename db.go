/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package schemakit provides the building blocks shared by the schema versioning engine
// and the database document codec: configuration, connection opening, transactions with
// retries and driver-specific error classification.
package schemakit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/retry"
	"github.com/cenkalti/backoff/v4"
)

// Open opens a new database connection pool using the passed configuration.
// The driver for the configured dialect must be registered (import one of the driver
// packages, e.g. github.com/acronis/go-schemakit/sqlite).
func Open(cfg *Config, ping bool) (*sql.DB, error) {
	driverName, dsn := cfg.DriverNameAndDSN()
	if driverName == "" {
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}
	dbConn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err = InitOpenedDB(dbConn, cfg, ping); err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	return dbConn, nil
}

// InitOpenedDB configures the connection pool of an already opened database and optionally pings it.
func InitOpenedDB(dbConn *sql.DB, cfg *Config, ping bool) error {
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime))
	if cfg.Dialect == DialectSQLite && isInMemorySQLite(cfg.SQLite.Path) {
		// Every new connection to ":memory:" opens a brand-new empty database.
		dbConn.SetMaxOpenConns(1)
		dbConn.SetMaxIdleConns(1)
		dbConn.SetConnMaxLifetime(0)
	}
	if ping {
		if err := dbConn.Ping(); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
	}
	return nil
}

// TxOption is a functional option for DoInTx.
type TxOption func(*txOptions)

type txOptions struct {
	txOpts      *sql.TxOptions
	retryPolicy retry.Policy
}

// WithRetryPolicy makes DoInTx retry the whole transaction when the error is retryable
// for the used driver (see RegisterIsRetryableFunc).
func WithRetryPolicy(policy retry.Policy) TxOption {
	return func(o *txOptions) {
		o.retryPolicy = policy
	}
}

// WithTxOptions sets options (isolation level, read-only flag) for the started transaction.
func WithTxOptions(opts *sql.TxOptions) TxOption {
	return func(o *txOptions) {
		o.txOpts = opts
	}
}

// DoInTx begins a new transaction, calls the passed function and commits or rolls back the transaction
// depending on whether the function returns an error or not.
// If the function panics, the transaction is rolled back and the panic is re-raised.
func DoInTx(ctx context.Context, dbConn *sql.DB, fn func(tx *sql.Tx) error, options ...TxOption) error {
	var opts txOptions
	for _, opt := range options {
		opt(&opts)
	}
	if opts.retryPolicy == nil {
		return doInTx(ctx, dbConn, opts.txOpts, fn)
	}
	return Retry(ctx, opts.retryPolicy, GetIsRetryable(dbConn.Driver()), func(ctx context.Context) error {
		return doInTx(ctx, dbConn, opts.txOpts, fn)
	})
}

func doInTx(ctx context.Context, dbConn *sql.DB, txOpts *sql.TxOptions, fn func(tx *sql.Tx) error) (err error) {
	tx, err := dbConn.BeginTx(ctx, txOpts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
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

// Retry calls fn until it succeeds, returns a non-retryable error, the policy gives up
// or the context is done. The last error is returned as is.
func Retry(ctx context.Context, policy retry.Policy, isRetryable IsRetryable, fn func(ctx context.Context) error) error {
	if isRetryable == nil {
		isRetryable = func(error) bool { return false }
	}
	var lastErr error
	operation := func() error {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy.NewBackOff(), ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

// IsRetryable is a function that reports whether the error returned by a driver is transient
// and the failed operation may be repeated.
type IsRetryable func(err error) bool
