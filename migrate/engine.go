/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/google/uuid"

	"github.com/acronis/go-schemakit"
	"github.com/acronis/go-schemakit/internal/catalog"
	"github.com/acronis/go-schemakit/schema"
)

// Errors returned by the Engine.
var (
	// ErrTempTableExists is returned by downgrades when a table with the temporary prefix already exists
	// (usually a leftover of a failed downgrade that must be recovered manually).
	ErrTempTableExists = errors.New("temporary table already exists")

	// ErrEmptyColumnList is returned by downgrades when a table that exists at the target version
	// shares no columns with its live counterpart.
	ErrEmptyColumnList = schema.ErrEmptyColumnList

	// ErrInvalidVersion is returned when the requested versions are out of the model's range
	// or do not match the direction of the migration.
	ErrInvalidVersion = errors.New("invalid schema version")
)

// Engine migrates a database to versions of a schema.Model.
// It is not safe for concurrent use: callers must serialize migrations of the same database.
type Engine struct {
	db            *sql.DB
	dialect       schemakit.Dialect
	model         *schema.Model
	logger        log.FieldLogger
	builder       *schema.Builder
	catalog       *catalog.Catalog
	store         *VersionStore
	name          string
	tempPrefix    string
	versionTable  string
	transactional bool
	metrics       *schemakit.PrometheusMetrics
	excluded      []string
}

// Option is a functional option for Engine configuration.
// Use NewEngine to create a new Engine instance.
type Option func(*Engine)

// WithVersionTable sets a custom name of the bookkeeping table.
func WithVersionTable(name string) Option {
	return func(e *Engine) {
		e.versionTable = name
	}
}

// WithDatabaseName sets the name under which the version is stored in the bookkeeping table.
func WithDatabaseName(name string) Option {
	return func(e *Engine) {
		e.name = name
	}
}

// WithTempTablePrefix sets the prefix of temporary tables used by downgrades.
func WithTempTablePrefix(prefix string) Option {
	return func(e *Engine) {
		e.tempPrefix = prefix
	}
}

// WithExcludedTables makes downgrades leave the tables alone, like the bookkeeping table.
func WithExcludedTables(names ...string) Option {
	return func(e *Engine) {
		e.excluded = append(e.excluded, names...)
	}
}

// WithTransaction makes every migration run in a single transaction together with the version bookkeeping.
// Use it only with engines that support transactional DDL (SQLite, PostgreSQL).
func WithTransaction() Option {
	return func(e *Engine) {
		e.transactional = true
	}
}

// WithMetrics makes the engine observe migration durations.
func WithMetrics(metrics *schemakit.PrometheusMetrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithConfig applies the migration section of schemakit.Config.
func WithConfig(cfg schemakit.MigrationConfig) Option {
	return func(e *Engine) {
		if cfg.Name != "" {
			e.name = cfg.Name
		}
		if cfg.VersionTable != "" {
			e.versionTable = cfg.VersionTable
		}
		if cfg.TempTablePrefix != "" {
			e.tempPrefix = cfg.TempTablePrefix
		}
		e.transactional = cfg.Transactional
	}
}

// NewEngine creates a new migration engine.
func NewEngine(db *sql.DB, dialect schemakit.Dialect, model *schema.Model, logger log.FieldLogger, opts ...Option) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if !dialect.Supported() {
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	e := &Engine{
		db:           db,
		dialect:      dialect,
		model:        model,
		logger:       logger,
		name:         schemakit.DefaultDatabaseName,
		versionTable: schemakit.DefaultVersionTableName,
		tempPrefix:   schemakit.DefaultTempTablePrefix,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.name == "" || e.versionTable == "" || e.tempPrefix == "" {
		return nil, fmt.Errorf("database name, version table and temporary table prefix cannot be empty")
	}
	if _, ok := model.Lookup(e.versionTable); ok {
		return nil, fmt.Errorf("model declares table %s reserved for version bookkeeping", e.versionTable)
	}
	if len(catalog.Exclude(tableNames(model), nil, e.tempPrefix)) != model.TableCount() {
		return nil, fmt.Errorf("model declares tables starting with temporary table prefix %q", e.tempPrefix)
	}

	e.builder = schema.NewBuilder(dialect)
	e.catalog = catalog.New(dialect)
	e.store = NewVersionStore(dialect, e.versionTable)
	return e, nil
}

func tableNames(model *schema.Model) []string {
	names := make([]string, 0, model.TableCount())
	for i := 0; i < model.TableCount(); i++ {
		names = append(names, model.TableAt(i).Name)
	}
	return names
}

// Model returns the schema model the engine migrates to.
func (e *Engine) Model() *schema.Model {
	return e.model
}

// StoredVersion returns the version stored in the bookkeeping table.
// ok is false for a database that was never migrated.
func (e *Engine) StoredVersion(ctx context.Context) (version int, ok bool, err error) {
	if err = e.store.Ensure(ctx, e.db); err != nil {
		return 0, false, fmt.Errorf("ensure version table: %w", err)
	}
	return e.store.Get(ctx, e.db, e.name)
}

// Plan returns the steps that migrate the database from its stored version to the target version
// without executing them.
func (e *Engine) Plan(ctx context.Context, target int) (*Plan, error) {
	if err := e.checkVersion(target); err != nil {
		return nil, err
	}
	if err := e.store.Ensure(ctx, e.db); err != nil {
		return nil, fmt.Errorf("ensure version table: %w", err)
	}
	return e.plan(ctx, e.db, target)
}

func (e *Engine) plan(ctx context.Context, q Execer, target int) (*Plan, error) {
	stored, ok, err := e.store.Get(ctx, q, e.name)
	if err != nil {
		return nil, fmt.Errorf("get stored version: %w", err)
	}
	switch {
	case !ok:
		return e.planCreate(target), nil
	case stored == target:
		return &Plan{Action: ActionNone, From: stored, To: target}, nil
	case stored < target:
		return e.planUpgrade(stored, target), nil
	default:
		return e.planDowngrade(ctx, q, stored, target)
	}
}

// Migrate migrates the database to the model version.
func (e *Engine) Migrate(ctx context.Context) (*Plan, error) {
	return e.MigrateTo(ctx, e.model.Version())
}

// MigrateTo migrates the database from its stored version to the target version:
// a database without a stored version is created, otherwise it is upgraded or downgraded.
// The applied plan is returned.
func (e *Engine) MigrateTo(ctx context.Context, target int) (*Plan, error) {
	if err := e.checkVersion(target); err != nil {
		return nil, err
	}
	var applied *Plan
	err := e.run(ctx, func(q Execer) error {
		p, err := e.plan(ctx, q, target)
		if err != nil {
			return err
		}
		applied = p
		return e.apply(ctx, q, p)
	})
	return applied, err
}

// Create creates all tables that exist at the version and stores the version.
// Existing tables are left untouched.
func (e *Engine) Create(ctx context.Context, version int) error {
	if err := e.checkVersion(version); err != nil {
		return err
	}
	return e.run(ctx, func(q Execer) error {
		return e.apply(ctx, q, e.planCreate(version))
	})
}

// Upgrade adds the columns introduced in (from, to] and creates tables introduced after from.
func (e *Engine) Upgrade(ctx context.Context, from, to int) error {
	if err := e.checkDirection(from, to, true); err != nil {
		return err
	}
	return e.run(ctx, func(q Execer) error {
		return e.apply(ctx, q, e.planUpgrade(from, to))
	})
}

// Downgrade recreates all tables at the version to and copies the surviving columns.
// Tables not declared by the model are dropped.
func (e *Engine) Downgrade(ctx context.Context, from, to int) error {
	if err := e.checkDirection(from, to, false); err != nil {
		return err
	}
	return e.run(ctx, func(q Execer) error {
		p, err := e.planDowngrade(ctx, q, from, to)
		if err != nil {
			return err
		}
		return e.apply(ctx, q, p)
	})
}

// Apply executes a plan built by Plan and stores its target version.
func (e *Engine) Apply(ctx context.Context, p *Plan) error {
	return e.run(ctx, func(q Execer) error {
		return e.apply(ctx, q, p)
	})
}

func (e *Engine) checkVersion(v int) error {
	if v < 1 || v > e.model.Version() {
		return fmt.Errorf("%w: %d is out of range [1, %d]", ErrInvalidVersion, v, e.model.Version())
	}
	return nil
}

func (e *Engine) checkDirection(from, to int, up bool) error {
	if err := e.checkVersion(to); err != nil {
		return err
	}
	if from < 1 {
		return fmt.Errorf("%w: source version %d must be positive", ErrInvalidVersion, from)
	}
	if up && from >= to {
		return fmt.Errorf("%w: cannot upgrade from %d to %d", ErrInvalidVersion, from, to)
	}
	if !up && from <= to {
		return fmt.Errorf("%w: cannot downgrade from %d to %d", ErrInvalidVersion, from, to)
	}
	return nil
}

// run calls fn within a transaction in the transactional mode, and directly with the pool otherwise.
func (e *Engine) run(ctx context.Context, fn func(q Execer) error) error {
	if err := e.store.Ensure(ctx, e.db); err != nil {
		return fmt.Errorf("ensure version table: %w", err)
	}
	if !e.transactional {
		return fn(e.db)
	}
	return schemakit.DoInTx(ctx, e.db, func(tx *sql.Tx) error {
		return fn(tx)
	})
}

// apply executes all steps of the plan and stores its target version.
func (e *Engine) apply(ctx context.Context, q Execer, p *Plan) (err error) {
	runID := uuid.NewString()
	logger := e.logger.With(
		log.String("run_id", runID),
		log.String("action", string(p.Action)),
		log.Int("from_version", p.From),
		log.Int("to_version", p.To),
	)

	if p.Action == ActionNone {
		logger.Info("Schema is up to date")
		return nil
	}

	startTime := time.Now()
	defer func() {
		if e.metrics == nil {
			return
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.metrics.ObserveMigration(string(p.Action), status, time.Since(startTime))
	}()

	logger.Info(fmt.Sprintf("Applying %d migration step(s) (%s)", len(p.Steps), p.Action))
	for _, step := range p.Steps {
		for i, stmt := range step.Statements {
			if _, err = q.ExecContext(ctx, stmt); err != nil {
				logger.Error("Migration failed, schema may be partially migrated",
					log.String("step", step.ID), log.Error(err))
				return fmt.Errorf("execute step %s statement %d: %w", step.ID, i+1, err)
			}
		}
		logger.Debug(fmt.Sprintf("Applied migration step: %s", step.ID))
	}

	if err = e.store.Set(ctx, q, e.name, p.To); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	logger.Info(fmt.Sprintf("Migrated schema to version %d", p.To), log.Int64("duration_ms", time.Since(startTime).Milliseconds()))
	return nil
}
