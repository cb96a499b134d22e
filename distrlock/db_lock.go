/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package distrlock provides a lock stored in a table of the migrated database.
// It serializes migrations started by several processes against the same database.
package distrlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/retry"
	"github.com/google/uuid"

	"github.com/acronis/go-schemakit"
)

// DefaultTableName is a default name for the table that stores locks.
const DefaultTableName = "schema_locks"

// MaxKeyLength is the maximum length of a lock key.
const MaxKeyLength = 40

// Lock errors.
var (
	ErrLockAlreadyAcquired = errors.New("lock already acquired")
	ErrLockAlreadyReleased = errors.New("lock already released")
)

// SQLExecutor is implemented by *sql.DB and *sql.Tx.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DBManager creates locks stored in a database table.
type DBManager struct {
	tableName string
	queries   dbQueries
}

// DBManagerOption is an option for NewDBManager.
type DBManagerOption func(*dbManagerOptions)

type dbManagerOptions struct {
	tableName string
}

// WithTableName sets a custom name for the table that stores locks.
func WithTableName(tableName string) DBManagerOption {
	return func(o *dbManagerOptions) {
		o.tableName = tableName
	}
}

// NewDBManager creates a new lock manager for the dialect.
func NewDBManager(dialect schemakit.Dialect, options ...DBManagerOption) (*DBManager, error) {
	var opts dbManagerOptions
	for _, opt := range options {
		opt(&opts)
	}
	if opts.tableName == "" {
		opts.tableName = DefaultTableName
	}
	q, err := newDBQueries(dialect, opts.tableName)
	if err != nil {
		return nil, err
	}
	return &DBManager{tableName: opts.tableName, queries: q}, nil
}

// TableName returns the name of the table that stores locks.
func (m *DBManager) TableName() string {
	return m.tableName
}

// CreateTableSQL returns the statement creating the table that stores locks.
func (m *DBManager) CreateTableSQL() string {
	return m.queries.createTable
}

// DropTableSQL returns the statement dropping the table that stores locks.
func (m *DBManager) DropTableSQL() string {
	return m.queries.dropTable
}

// EnsureTable creates the table that stores locks if it does not exist.
func (m *DBManager) EnsureTable(ctx context.Context, executor SQLExecutor) error {
	if _, err := executor.ExecContext(ctx, m.queries.createTable); err != nil {
		return fmt.Errorf("create lock table %s: %w", m.tableName, err)
	}
	return nil
}

// NewLock creates a new initialized (but not acquired) lock.
func (m *DBManager) NewLock(ctx context.Context, executor SQLExecutor, key string) (*DBLock, error) {
	if key == "" {
		return nil, fmt.Errorf("lock key cannot be empty")
	}
	if len(key) > MaxKeyLength {
		return nil, fmt.Errorf("lock key cannot be longer than %d symbols", MaxKeyLength)
	}
	if _, err := executor.ExecContext(ctx, m.queries.initLock, key); err != nil {
		return nil, fmt.Errorf("init lock with key %s: %w", key, err)
	}
	return &DBLock{Key: key, manager: m}, nil
}

// DBLock is a lock stored in the database. A lock whose TTL passed may be acquired by anybody.
type DBLock struct {
	Key     string
	TTL     time.Duration
	token   string
	manager *DBManager
}

// Acquire acquires the lock with a new random token.
// ErrLockAlreadyAcquired is returned if somebody else holds the lock.
func (l *DBLock) Acquire(ctx context.Context, executor SQLExecutor, lockTTL time.Duration) error {
	return l.AcquireWithStaticToken(ctx, executor, uuid.NewString(), lockTTL)
}

// AcquireWithStaticToken acquires the lock with the passed token.
// A holder of the same token acquires the lock again (and extends it) without waiting for the TTL.
func (l *DBLock) AcquireWithStaticToken(ctx context.Context, executor SQLExecutor, token string, lockTTL time.Duration) error {
	interval := l.manager.queries.intervalMaker(lockTTL)
	err := execQueryAndCheckAffectedRow(ctx, executor, l.manager.queries.acquireLock,
		[]interface{}{interval, token, l.Key, token}, ErrLockAlreadyAcquired)
	if err != nil {
		return err
	}
	l.TTL = lockTTL
	l.token = token
	return nil
}

// Release releases the lock. ErrLockAlreadyReleased is returned if the lock expired or was taken over.
func (l *DBLock) Release(ctx context.Context, executor SQLExecutor) error {
	return execQueryAndCheckAffectedRow(ctx, executor,
		l.manager.queries.releaseLock, []interface{}{l.Key, l.token}, ErrLockAlreadyReleased)
}

// Extend resets the expiration of the acquired lock.
// ErrLockAlreadyReleased is returned if the lock expired or was taken over; it must be acquired again.
func (l *DBLock) Extend(ctx context.Context, executor SQLExecutor) error {
	interval := l.manager.queries.intervalMaker(l.TTL)
	return execQueryAndCheckAffectedRow(ctx, executor,
		l.manager.queries.extendLock, []interface{}{interval, l.Key, l.token}, ErrLockAlreadyReleased)
}

// Token returns the token of the last acquisition.
func (l *DBLock) Token() string {
	return l.token
}

type doOptions struct {
	lockTTL                time.Duration
	periodicExtendInterval time.Duration
	releaseTimeout         time.Duration
	acquirePolicy          retry.Policy
	logger                 log.FieldLogger
}

// DoOption is an option for DoExclusively.
type DoOption func(*doOptions)

// WithLockTTL sets the TTL of the lock acquired by DoExclusively.
func WithLockTTL(ttl time.Duration) DoOption {
	return func(o *doOptions) {
		o.lockTTL = ttl
	}
}

// WithPeriodicExtendInterval sets the interval of the lock extension.
func WithPeriodicExtendInterval(interval time.Duration) DoOption {
	return func(o *doOptions) {
		o.periodicExtendInterval = interval
	}
}

// WithReleaseTimeout sets the timeout of the lock release.
func WithReleaseTimeout(timeout time.Duration) DoOption {
	return func(o *doOptions) {
		o.releaseTimeout = timeout
	}
}

// WithAcquireRetryPolicy makes DoExclusively wait for a lock held by somebody else
// retrying the acquisition according to the policy.
func WithAcquireRetryPolicy(policy retry.Policy) DoOption {
	return func(o *doOptions) {
		o.acquirePolicy = policy
	}
}

// WithLogger sets the logger for failures of the lock extension and release.
func WithLogger(logger log.FieldLogger) DoOption {
	return func(o *doOptions) {
		o.logger = logger
	}
}

// DoExclusively acquires the lock, calls fn and releases the lock when fn returns.
// The lock TTL is 1 minute by default. While fn works the lock is extended every TTL/2
// in a separate goroutine; if the extension finds the lock released, the context of fn is canceled.
func (l *DBLock) DoExclusively(
	ctx context.Context,
	dbConn *sql.DB,
	fn func(ctx context.Context) error,
	options ...DoOption,
) error {
	opts := doOptions{
		lockTTL:        time.Minute,
		releaseTimeout: 5 * time.Second,
		logger:         log.NewDisabledLogger(),
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.periodicExtendInterval == 0 {
		opts.periodicExtendInterval = opts.lockTTL / 2
	}

	acquire := func(ctx context.Context) error {
		return schemakit.DoInTx(ctx, dbConn, func(tx *sql.Tx) error {
			return l.Acquire(ctx, tx, opts.lockTTL)
		})
	}
	var err error
	if opts.acquirePolicy != nil {
		err = schemakit.Retry(ctx, opts.acquirePolicy, func(err error) bool {
			return errors.Is(err, ErrLockAlreadyAcquired)
		}, acquire)
	} else {
		err = acquire(ctx)
	}
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.Key, err)
	}
	logger := opts.logger.With(log.String("lock_key", l.Key), log.String("lock_token", l.token))

	//nolint:contextcheck // the lock is released even if ctx is canceled
	defer func() {
		releaseCtx, releaseCtxCancel := context.WithTimeout(context.Background(), opts.releaseTimeout)
		defer releaseCtxCancel()
		if releaseErr := schemakit.DoInTx(releaseCtx, dbConn, func(tx *sql.Tx) error {
			return l.Release(releaseCtx, tx)
		}); releaseErr != nil {
			logger.Error("failed to release lock", log.Error(releaseErr))
		}
	}()

	childCtx, childCtxCancel := context.WithCancel(ctx)
	defer childCtxCancel()

	extensionExit := make(chan struct{})
	extensionDone := make(chan struct{})
	defer func() {
		close(extensionDone)
		<-extensionExit
	}()

	go func() {
		defer close(extensionExit)
		ticker := time.NewTicker(opts.periodicExtendInterval)
		defer ticker.Stop()
		for {
			select {
			case <-extensionDone:
				return
			case <-ticker.C:
				if extendErr := schemakit.DoInTx(ctx, dbConn, func(tx *sql.Tx) error {
					return l.Extend(ctx, tx)
				}); extendErr != nil {
					logger.Error("failed to extend lock", log.Error(extendErr))
					if errors.Is(extendErr, ErrLockAlreadyReleased) {
						childCtxCancel()
						return
					}
				}
			}
		}
	}()

	return fn(childCtx)
}

// DoExclusively creates the lock table if needed, initializes the lock with the key and calls
// DBLock.DoExclusively on it. DefaultTableName is used for the table.
func DoExclusively(
	ctx context.Context,
	dbConn *sql.DB,
	dialect schemakit.Dialect,
	key string,
	fn func(ctx context.Context) error,
	options ...DoOption,
) error {
	manager, err := NewDBManager(dialect)
	if err != nil {
		return fmt.Errorf("create lock manager: %w", err)
	}
	if err = manager.EnsureTable(ctx, dbConn); err != nil {
		return err
	}
	lock, err := manager.NewLock(ctx, dbConn, key)
	if err != nil {
		return err
	}
	return lock.DoExclusively(ctx, dbConn, fn, options...)
}

func execQueryAndCheckAffectedRow(
	ctx context.Context, executor SQLExecutor, query string, args []interface{}, errOnNoAffectedRows error,
) error {
	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	// lib/pq may swallow the cancellation of a context shared by BeginTx and ExecContext
	// (https://github.com/lib/pq/issues/874), so the context is checked explicitly.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errOnNoAffectedRows
	}
	return nil
}
