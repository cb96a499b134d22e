/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package helper ties a versioned database together: it opens the connection,
// brings the schema to the version of the model and exports or imports documents
// using the same configuration.
package helper

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/gocraft/dbr/v2"

	"github.com/acronis/go-schemakit"
	"github.com/acronis/go-schemakit/dbrutil"
	"github.com/acronis/go-schemakit/distrlock"
	"github.com/acronis/go-schemakit/document"
	"github.com/acronis/go-schemakit/migrate"
	"github.com/acronis/go-schemakit/schema"
)

// DefaultSlowQueryThreshold is the duration after which codec queries are logged as slow.
const DefaultSlowQueryThreshold = time.Second

// Helper owns a database with a versioned schema.
type Helper struct {
	db      *sql.DB
	ownsDB  bool
	conn    *dbr.Connection
	dialect schemakit.Dialect
	logger  log.FieldLogger
	engine  *migrate.Engine
	codec   *document.Codec
	format  document.Format
	lock    *migrationLock
}

type migrationLock struct {
	key     string
	manager *distrlock.DBManager
	opts    []distrlock.DoOption
}

type options struct {
	migration          schemakit.MigrationConfig
	metrics            *schemakit.PrometheusMetrics
	slowQueryThreshold time.Duration
	engineOpts         []migrate.Option
	codecOpts          []document.Option
	lockKey            string
	lockManagerOpts    []distrlock.DBManagerOption
	lockOpts           []distrlock.DoOption
}

// Option is a functional option for Helper configuration.
type Option func(*options)

// WithMigrationConfig sets the migration section used by both the engine and the codec.
func WithMigrationConfig(cfg schemakit.MigrationConfig) Option {
	return func(o *options) {
		o.migration = cfg
	}
}

// WithMetrics makes the helper observe migration durations, codec query durations and imported records.
func WithMetrics(metrics *schemakit.PrometheusMetrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithSlowQueryThreshold sets the duration after which codec queries are logged as slow.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(o *options) {
		o.slowQueryThreshold = d
	}
}

// WithEngineOptions passes additional options to the migration engine.
func WithEngineOptions(opts ...migrate.Option) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// WithCodecOptions passes additional options to the document codec.
func WithCodecOptions(opts ...document.Option) Option {
	return func(o *options) {
		o.codecOpts = append(o.codecOpts, opts...)
	}
}

// WithMigrationLock makes migrations run under the database lock with the key,
// so several processes may migrate the same database concurrently.
// The table storing locks is excluded from downgrades, export, import and clean.
func WithMigrationLock(key string, opts ...distrlock.DoOption) Option {
	return func(o *options) {
		o.lockKey = key
		o.lockOpts = append(o.lockOpts, opts...)
	}
}

// WithMigrationLockTable sets the name of the table storing migration locks.
func WithMigrationLockTable(tableName string) Option {
	return func(o *options) {
		o.lockManagerOpts = append(o.lockManagerOpts, distrlock.WithTableName(tableName))
	}
}

// New creates a Helper over an already opened database. The database is not migrated,
// call Migrate for that. Close does not close the passed database.
func New(db *sql.DB, dialect schemakit.Dialect, model *schema.Model, logger log.FieldLogger, opts ...Option) (*Helper, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	o := options{migration: schemakit.DefaultMigrationConfig(), slowQueryThreshold: DefaultSlowQueryThreshold}
	for _, opt := range opts {
		opt(&o)
	}

	format := document.XML
	if o.migration.DocumentFormat != "" {
		var err error
		if format, err = document.FormatByName(o.migration.DocumentFormat); err != nil {
			return nil, err
		}
	}

	engineOpts := []migrate.Option{migrate.WithConfig(o.migration)}
	codecOpts := []document.Option{document.WithConfig(o.migration)}
	if o.metrics != nil {
		engineOpts = append(engineOpts, migrate.WithMetrics(o.metrics))
		codecOpts = append(codecOpts, document.WithMetrics(o.metrics))
	}

	var lock *migrationLock
	if o.lockKey != "" {
		manager, err := distrlock.NewDBManager(dialect, o.lockManagerOpts...)
		if err != nil {
			return nil, fmt.Errorf("create migration lock manager: %w", err)
		}
		lockOpts := append([]distrlock.DoOption{distrlock.WithLogger(logger)}, o.lockOpts...)
		lock = &migrationLock{key: o.lockKey, manager: manager, opts: lockOpts}
		engineOpts = append(engineOpts, migrate.WithExcludedTables(manager.TableName()))
		codecOpts = append(codecOpts, document.WithExcludedTables(manager.TableName()))
	}

	engine, err := migrate.NewEngine(db, dialect, model, logger, append(engineOpts, o.engineOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("create migration engine: %w", err)
	}

	conn, err := dbrutil.NewConnection(db, dialect, newEventReceiver(logger, o))
	if err != nil {
		return nil, err
	}
	codec, err := document.NewCodec(conn, dialect, logger, append(codecOpts, o.codecOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("create document codec: %w", err)
	}

	return &Helper{
		db:      db,
		conn:    conn,
		dialect: dialect,
		logger:  logger,
		engine:  engine,
		codec:   codec,
		format:  format,
		lock:    lock,
	}, nil
}

func newEventReceiver(logger log.FieldLogger, o options) dbr.EventReceiver {
	receivers := []dbr.EventReceiver{
		dbrutil.NewSlowQueryLogEventReceiver(logger, o.slowQueryThreshold, document.QueryAnnotationPrefix),
		dbrutil.NewErrorLogEventReceiver(logger),
	}
	if o.metrics != nil {
		receivers = append(receivers, dbrutil.NewQueryMetricsEventReceiver(o.metrics, document.QueryAnnotationPrefix))
	}
	return dbrutil.NewCompositeReceiver(receivers)
}

// Open opens the database described by cfg and migrates it to the version of the model.
// The migration section of cfg configures the engine and the codec unless WithMigrationConfig is passed.
func Open(ctx context.Context, cfg *schemakit.Config, model *schema.Model, logger log.FieldLogger, opts ...Option) (*Helper, error) {
	db, err := schemakit.Open(cfg, true)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithMigrationConfig(cfg.Migration)}, opts...)
	h, err := New(db, cfg.Dialect, model, logger, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	h.ownsDB = true
	if _, err = h.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

// Migrate brings the database to the version of the model.
func (h *Helper) Migrate(ctx context.Context) (*migrate.Plan, error) {
	return h.MigrateTo(ctx, h.engine.Model().Version())
}

// MigrateTo brings the database to the target version.
func (h *Helper) MigrateTo(ctx context.Context, target int) (*migrate.Plan, error) {
	if h.lock == nil {
		return h.engine.MigrateTo(ctx, target)
	}
	if err := h.lock.manager.EnsureTable(ctx, h.db); err != nil {
		return nil, err
	}
	lock, err := h.lock.manager.NewLock(ctx, h.db, h.lock.key)
	if err != nil {
		return nil, err
	}
	var plan *migrate.Plan
	err = lock.DoExclusively(ctx, h.db, func(ctx context.Context) error {
		var migrateErr error
		plan, migrateErr = h.engine.MigrateTo(ctx, target)
		return migrateErr
	}, h.lock.opts...)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// Version returns the stored schema version. ok is false if the database was never migrated.
func (h *Helper) Version(ctx context.Context) (version int, ok bool, err error) {
	return h.engine.StoredVersion(ctx)
}

// Export reads all user tables into a document.
func (h *Helper) Export(ctx context.Context) (*document.Document, error) {
	return h.codec.Export(ctx)
}

// ExportTo writes the document of all user tables in the configured format.
func (h *Helper) ExportTo(ctx context.Context, w io.Writer) error {
	return h.codec.ExportTo(ctx, w, h.format)
}

// ExportFile writes the document of all user tables into the file.
// The format is chosen by the file extension, the configured one is used for unknown extensions.
func (h *Helper) ExportFile(ctx context.Context, path string) error {
	return h.codec.ExportFile(ctx, path, h.formatFor(path))
}

// Import replaces (or, with appendRows, extends) the contents of the user tables with the document.
func (h *Helper) Import(ctx context.Context, doc *document.Document, appendRows bool) (*document.ImportSummary, error) {
	return h.codec.Import(ctx, doc, appendRows)
}

// ImportFrom reads a document in the configured format and imports it.
func (h *Helper) ImportFrom(ctx context.Context, r io.Reader, appendRows bool) (*document.ImportSummary, error) {
	return h.codec.ImportFrom(ctx, r, h.format, appendRows)
}

// ImportFile reads the document file and imports it.
// The format is chosen by the file extension, the configured one is used for unknown extensions.
func (h *Helper) ImportFile(ctx context.Context, path string, appendRows bool) (*document.ImportSummary, error) {
	return h.codec.ImportFile(ctx, path, h.formatFor(path), appendRows)
}

// Clean deletes all rows of all user tables.
func (h *Helper) Clean(ctx context.Context) error {
	return h.codec.Clean(ctx)
}

func (h *Helper) formatFor(path string) document.Format {
	if f, err := document.FormatForPath(path); err == nil {
		return f
	}
	return h.format
}

// Format returns the configured document format.
func (h *Helper) Format() document.Format {
	return h.format
}

// Engine returns the migration engine.
func (h *Helper) Engine() *migrate.Engine {
	return h.engine
}

// Codec returns the document codec.
func (h *Helper) Codec() *document.Codec {
	return h.codec
}

// DB returns the underlying database.
func (h *Helper) DB() *sql.DB {
	return h.db
}

// Close closes the database if it was opened by Open.
func (h *Helper) Close() error {
	if !h.ownsDB {
		return nil
	}
	if err := h.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
