/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/gocraft/dbr/v2"
	"github.com/google/uuid"

	"github.com/acronis/go-schemakit"
	"github.com/acronis/go-schemakit/dbrutil"
	"github.com/acronis/go-schemakit/internal/catalog"
)

// QueryAnnotationPrefix starts the comments the codec annotates its queries with.
// Pass it to dbrutil event receivers to collect metrics of the codec queries.
const QueryAnnotationPrefix = "schemakit:"

const cleanSavepoint = "schemakit_clean"

// Codec exports database rows into documents and imports documents back.
// It is not safe for concurrent use with migrations of the same database.
type Codec struct {
	conn             *dbr.Connection
	dialect          schemakit.Dialect
	logger           log.FieldLogger
	catalog          *catalog.Catalog
	excluded         []string
	excludedPrefixes []string
	strictTables     bool
	maxCleanPasses   int
	metrics          *schemakit.PrometheusMetrics
	txOpts           *sql.TxOptions
}

// Option is a functional option for Codec configuration.
type Option func(*Codec)

// WithExcludedTables excludes tables from export, clean and import in addition to the version table.
func WithExcludedTables(names ...string) Option {
	return func(c *Codec) {
		c.excluded = append(c.excluded, names...)
	}
}

// WithStrictTables makes an import fail with StatusErrorInserting
// when the document contains a table that does not exist in the database.
func WithStrictTables() Option {
	return func(c *Codec) {
		c.strictTables = true
	}
}

// WithMaxCleanPasses limits the number of passes the clean loop makes over non-empty tables.
func WithMaxCleanPasses(n int) Option {
	return func(c *Codec) {
		c.maxCleanPasses = n
	}
}

// WithMetrics makes the codec count imported records.
func WithMetrics(metrics *schemakit.PrometheusMetrics) Option {
	return func(c *Codec) {
		c.metrics = metrics
	}
}

// WithTxOptions sets options of the transactions export, clean and import run in.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(c *Codec) {
		c.txOpts = opts
	}
}

// WithConfig applies the migration section of schemakit.Config:
// the version table and temporary tables are excluded, clean passes and strict tables are taken as is.
func WithConfig(cfg schemakit.MigrationConfig) Option {
	return func(c *Codec) {
		if cfg.VersionTable != "" {
			c.excluded = append(c.excluded, cfg.VersionTable)
		}
		if cfg.TempTablePrefix != "" {
			c.excludedPrefixes = append(c.excludedPrefixes, cfg.TempTablePrefix)
		}
		if cfg.MaxCleanPasses > 0 {
			c.maxCleanPasses = cfg.MaxCleanPasses
		}
		c.strictTables = cfg.StrictTables
	}
}

// NewCodec creates a new Codec working over the connection.
func NewCodec(conn *dbr.Connection, dialect schemakit.Dialect, logger log.FieldLogger, opts ...Option) (*Codec, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if !dialect.Supported() {
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	c := &Codec{
		conn:             conn,
		dialect:          dialect,
		logger:           logger,
		catalog:          catalog.New(dialect),
		excluded:         []string{schemakit.DefaultVersionTableName},
		excludedPrefixes: []string{schemakit.DefaultTempTablePrefix},
		maxCleanPasses:   schemakit.DefaultMaxCleanPasses,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxCleanPasses < 1 {
		return nil, fmt.Errorf("max clean passes must be positive")
	}
	return c, nil
}

func (c *Codec) txRunner() dbrutil.TxRunner {
	return dbrutil.NewTxRunner(c.conn, c.txOpts, nil)
}

func (c *Codec) querier(tx dbr.SessionRunner, annotation string) dbrutil.Querier {
	return dbrutil.Querier{Runner: tx, Annotation: QueryAnnotationPrefix + annotation}
}

// listTables returns all user tables and the ones the codec works with.
func (c *Codec) listTables(ctx context.Context, tx dbr.SessionRunner) (all, usable []string, err error) {
	all, err = c.catalog.Tables(ctx, c.querier(tx, "list_tables"))
	if err != nil {
		return nil, nil, err
	}
	return all, catalog.Exclude(all, c.excluded, c.excludedPrefixes...), nil
}

// Export reads every row of every user table into a document.
// Tables are sorted by name, columns follow the live table order, rows follow the engine order.
func (c *Codec) Export(ctx context.Context) (*Document, error) {
	startTime := time.Now()
	doc := &Document{}
	err := c.txRunner().DoInTx(ctx, func(tx dbr.SessionRunner) error {
		_, tables, err := c.listTables(ctx, tx)
		if err != nil {
			return err
		}
		for _, name := range tables {
			t, exportErr := c.exportTable(ctx, tx, name)
			if exportErr != nil {
				return exportErr
			}
			doc.Tables = append(doc.Tables, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export database: %w", err)
	}
	c.logger.Info(fmt.Sprintf("Exported %d record(s) from %d table(s)", doc.RecordsCount(), len(doc.Tables)),
		log.Int64("duration_ms", time.Since(startTime).Milliseconds()))
	return doc, nil
}

func (c *Codec) exportTable(ctx context.Context, tx dbr.SessionRunner, name string) (*Table, error) {
	query, err := c.catalog.SelectAllQuery(name)
	if err != nil {
		return nil, err
	}
	rows, err := c.querier(tx, "export_table").QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select rows of %s: %w", name, err)
	}
	defer rows.Close() // nolint: errcheck

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns of %s: %w", name, err)
	}
	t := &Table{Name: name}
	values := make([]sql.NullString, len(columns))
	dest := make([]interface{}, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err = rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row of %s: %w", name, err)
		}
		rec := Record{Fields: make([]Field, len(columns))}
		for i, col := range columns {
			rec.Fields[i].Name = col
			if values[i].Valid {
				rec.Fields[i].Value = Value(values[i].String)
			}
		}
		t.Records = append(t.Records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows of %s: %w", name, err)
	}
	return t, nil
}

// ExportTo exports the database and encodes the document with the format.
func (c *Codec) ExportTo(ctx context.Context, w io.Writer, f Format) error {
	doc, err := c.Export(ctx)
	if err != nil {
		return err
	}
	if err = f.Encode(w, doc); err != nil {
		return fmt.Errorf("encode %s document: %w", f.Name(), err)
	}
	return nil
}

// ExportFile exports the database into the file. If f is nil, the format is chosen by the file extension.
// The file is removed if the export fails.
func (c *Codec) ExportFile(ctx context.Context, path string, f Format) (err error) {
	if f == nil {
		if f, err = FormatForPath(path); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create document file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close document file: %w", closeErr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return c.ExportTo(ctx, file, f)
}

// ImportSummary describes a successful import.
type ImportSummary struct {
	// Records is the number of inserted records per table.
	Records map[string]int
	// SkippedTables lists document tables that do not exist in the database or are excluded.
	SkippedTables []string
}

// RecordsCount returns the total number of inserted records.
func (s *ImportSummary) RecordsCount() int {
	var n int
	for _, cnt := range s.Records {
		n += cnt
	}
	return n
}

// Import inserts the records of the document into the live tables in one transaction.
// Unless appendRows is set, all tables are emptied first. Columns are matched by name:
// document fields without a live column are ignored, live columns without a field are left to their defaults.
// Any failure rolls the whole import back. The returned error is an *ImportError.
func (c *Codec) Import(ctx context.Context, doc *Document, appendRows bool) (*ImportSummary, error) {
	if doc == nil || len(doc.Tables) == 0 {
		return nil, &ImportError{Status: StatusNoData, Err: ErrNoData}
	}
	logger := c.logger.With(log.String("run_id", uuid.NewString()))
	startTime := time.Now()

	summary := &ImportSummary{Records: map[string]int{}}
	err := c.txRunner().DoInTx(ctx, func(tx dbr.SessionRunner) error {
		all, tables, err := c.listTables(ctx, tx)
		if err != nil {
			return err
		}
		for _, t := range doc.Tables {
			if catalog.Contains(tables, t.Name) {
				continue
			}
			if c.strictTables && !catalog.Contains(all, t.Name) {
				return &ImportError{Status: StatusErrorInserting, Table: t.Name, Err: ErrUnknownTable}
			}
			logger.Warn(fmt.Sprintf("Table %s from the document is skipped", t.Name))
			summary.SkippedTables = append(summary.SkippedTables, t.Name)
		}

		if !appendRows {
			if err = c.clean(ctx, tx, tables); err != nil {
				return err
			}
		}

		for _, name := range tables {
			t, ok := doc.Table(name)
			if !ok || len(t.Records) == 0 {
				continue
			}
			n, insertErr := c.importTable(ctx, tx, name, t.Records)
			if insertErr != nil {
				return &ImportError{
					Status:     StatusErrorInserting,
					Table:      name,
					Constraint: schemakit.ClassifyConstraint(c.conn.Driver(), insertErr),
					Err:        insertErr,
				}
			}
			summary.Records[name] = n
		}
		return nil
	})
	if err != nil {
		var importErr *ImportError
		if !errors.As(err, &importErr) {
			importErr = &ImportError{Status: StatusErrorInserting, Err: err}
		}
		logger.Error("Import failed, all changes are rolled back",
			log.String("status", importErr.Status.String()), log.Error(err))
		return nil, importErr
	}

	if c.metrics != nil {
		for name, n := range summary.Records {
			c.metrics.AddImportedRecords(name, n)
		}
	}
	logger.Info(fmt.Sprintf("Imported %d record(s) into %d table(s)", summary.RecordsCount(), len(summary.Records)),
		log.Int64("duration_ms", time.Since(startTime).Milliseconds()))
	return summary, nil
}

func (c *Codec) importTable(ctx context.Context, tx dbr.SessionRunner, name string, records []Record) (int, error) {
	columns, err := c.catalog.Columns(ctx, c.querier(tx, "table_columns"), name)
	if err != nil {
		return 0, err
	}
	for i, rec := range records {
		var (
			cols []string
			vals []interface{}
		)
		for _, col := range columns {
			value, ok := rec.Lookup(col)
			if !ok {
				continue
			}
			cols = append(cols, col)
			if value == nil {
				vals = append(vals, nil)
			} else {
				vals = append(vals, *value)
			}
		}
		if len(cols) == 0 {
			_, err = tx.InsertBySql(c.defaultValuesInsert(name)).ExecContext(ctx)
		} else {
			_, err = tx.InsertInto(name).Columns(cols...).Values(vals...).ExecContext(ctx)
		}
		if err != nil {
			return i, fmt.Errorf("insert record #%d: %w", i+1, err)
		}
	}
	return len(records), nil
}

func (c *Codec) defaultValuesInsert(table string) string {
	if c.dialect == schemakit.DialectMySQL {
		return "INSERT INTO " + c.conn.Dialect.QuoteIdent(table) + " () VALUES ()"
	}
	return "INSERT INTO " + c.conn.Dialect.QuoteIdent(table) + " DEFAULT VALUES"
}

// ImportFrom decodes the document with the format and imports it.
// Parse errors give StatusErrorInFile, failed reads give StatusErrorReading.
func (c *Codec) ImportFrom(ctx context.Context, r io.Reader, f Format, appendRows bool) (*ImportSummary, error) {
	tr := &readTracker{r: r}
	doc, err := f.Decode(tr)
	if err != nil {
		if tr.err != nil {
			return nil, &ImportError{Status: StatusErrorReading, Err: fmt.Errorf("read document: %w", tr.err)}
		}
		return nil, &ImportError{Status: StatusErrorInFile, Err: err}
	}
	return c.Import(ctx, doc, appendRows)
}

// ImportFile imports the document file. If f is nil, the format is chosen by the file extension.
func (c *Codec) ImportFile(ctx context.Context, path string, f Format, appendRows bool) (*ImportSummary, error) {
	if f == nil {
		var err error
		if f, err = FormatForPath(path); err != nil {
			return nil, &ImportError{Status: StatusErrorInFile, Err: err}
		}
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ImportError{Status: StatusFileNotFound, Err: err}
		}
		return nil, &ImportError{Status: StatusErrorReading, Err: err}
	}
	defer file.Close() // nolint: errcheck
	return c.ImportFrom(ctx, file, f, appendRows)
}

type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}

// Clean deletes all rows of all user tables in one transaction.
func (c *Codec) Clean(ctx context.Context) error {
	return c.txRunner().DoInTx(ctx, func(tx dbr.SessionRunner) error {
		_, tables, err := c.listTables(ctx, tx)
		if err != nil {
			return err
		}
		return c.clean(ctx, tx, tables)
	})
}

// clean deletes rows of the tables until all of them are empty.
// A delete may fail while dependent rows exist, so failed tables are retried on the next pass.
// The loop fails with ErrCleanIncomplete when a pass makes no progress or the pass limit is reached.
func (c *Codec) clean(ctx context.Context, tx dbr.SessionRunner, tables []string) error {
	var lastErr error
	for pass := 1; ; pass++ {
		nonEmpty, err := c.nonEmptyTables(ctx, tx, tables)
		if err != nil {
			return err
		}
		if len(nonEmpty) == 0 {
			c.logger.Debug(fmt.Sprintf("Cleaned %d table(s) in %d pass(es)", len(tables), pass-1))
			return nil
		}
		if pass > c.maxCleanPasses {
			return cleanIncomplete(nonEmpty, fmt.Sprintf("%d pass(es) made", c.maxCleanPasses), lastErr)
		}
		var progress bool
		for _, name := range nonEmpty {
			if err = c.deleteAll(ctx, tx, name); err != nil {
				c.logger.Debug(fmt.Sprintf("Cannot empty table %s, retrying on the next pass", name), log.Error(err))
				lastErr = err
				continue
			}
			progress = true
		}
		if !progress {
			return cleanIncomplete(nonEmpty, "no progress", lastErr)
		}
	}
}

func cleanIncomplete(tables []string, reason string, lastErr error) error {
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)
	err := fmt.Errorf("%w: %s: %s", ErrCleanIncomplete, reason, strings.Join(sorted, ", "))
	if lastErr != nil {
		err = fmt.Errorf("%w: last error: %w", err, lastErr)
	}
	return err
}

func (c *Codec) nonEmptyTables(ctx context.Context, tx dbr.SessionRunner, tables []string) ([]string, error) {
	var nonEmpty []string
	for _, name := range tables {
		var cnt int
		if err := tx.Select("COUNT(*)").From(dbr.I(name)).LoadOneContext(ctx, &cnt); err != nil {
			return nil, fmt.Errorf("count rows of %s: %w", name, err)
		}
		if cnt > 0 {
			nonEmpty = append(nonEmpty, name)
		}
	}
	return nonEmpty, nil
}

// deleteAll deletes all rows of the table.
// PostgreSQL aborts the transaction on a failed statement, so the delete is wrapped into a savepoint there.
func (c *Codec) deleteAll(ctx context.Context, tx dbr.SessionRunner, table string) error {
	if !c.dialect.IsPostgres() {
		_, err := tx.DeleteFrom(table).ExecContext(ctx)
		return err
	}
	if _, err := tx.UpdateBySql("SAVEPOINT " + cleanSavepoint).ExecContext(ctx); err != nil {
		return err
	}
	if _, err := tx.DeleteFrom(table).ExecContext(ctx); err != nil {
		if _, rbErr := tx.UpdateBySql("ROLLBACK TO SAVEPOINT " + cleanSavepoint).ExecContext(ctx); rbErr != nil {
			return fmt.Errorf("rollback to savepoint: %w", rbErr)
		}
		return err
	}
	_, err := tx.UpdateBySql("RELEASE SAVEPOINT " + cleanSavepoint).ExecContext(ctx)
	return err
}
