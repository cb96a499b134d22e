/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/acronis/go-appkit/log"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-schemakit"
	"github.com/acronis/go-schemakit/internal/catalog"
	"github.com/acronis/go-schemakit/migrate"
	"github.com/acronis/go-schemakit/schema"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func peopleModel(t *testing.T, version int) *schema.Model {
	t.Helper()
	m, err := schema.FromDeclaration(version, [][][]string{
		[][]string{
			{"people", "1"},
			{"_id INTEGER PRIMARY KEY AUTOINCREMENT", "first_name TEXT", "last_name TEXT"},
			{"middle_init TEXT"},
			{"nickname TEXT", "age INTEGER"},
		},
		[][]string{
			{"phones", "2"},
			{},
			{"_id INTEGER PRIMARY KEY AUTOINCREMENT", "person_id INTEGER", "number TEXT"},
			{"kind TEXT"},
		},
	})
	require.NoError(t, err)
	return m
}

func newEngine(t *testing.T, db *sql.DB, model *schema.Model, opts ...migrate.Option) *migrate.Engine {
	t.Helper()
	engine, err := migrate.NewEngine(db, schemakit.DialectSQLite, model, log.NewDisabledLogger(), opts...)
	require.NoError(t, err)
	return engine
}

func columnsOf(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	columns, err := catalog.New(schemakit.DialectSQLite).Columns(context.Background(), db, table)
	require.NoError(t, err)
	return columns
}

func tablesOf(t *testing.T, db *sql.DB) []string {
	t.Helper()
	tables, err := catalog.New(schemakit.DialectSQLite).Tables(context.Background(), db)
	require.NoError(t, err)
	return catalog.Exclude(tables, []string{"sqlite_sequence"})
}

func storedVersion(t *testing.T, engine *migrate.Engine) int {
	t.Helper()
	v, ok, err := engine.StoredVersion(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	return v
}

func TestEngine_Create(t *testing.T) {
	logger, loggerClose := log.NewLogger(&log.Config{Output: log.OutputStderr, Level: log.LevelDebug})
	defer loggerClose()

	db := openTestDB(t)
	engine, err := migrate.NewEngine(db, schemakit.DialectSQLite, peopleModel(t, 2), logger)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := engine.StoredVersion(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	plan, err := engine.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, migrate.ActionCreate, plan.Action)
	require.Equal(t, 2, plan.To)
	require.Equal(t, []migrate.Step{
		{ID: "create/people", Statements: []string{
			"CREATE TABLE IF NOT EXISTS people (_id INTEGER PRIMARY KEY AUTOINCREMENT, first_name TEXT, last_name TEXT, middle_init TEXT);",
		}},
		{ID: "create/phones", Statements: []string{
			"CREATE TABLE IF NOT EXISTS phones (_id INTEGER PRIMARY KEY AUTOINCREMENT, person_id INTEGER, number TEXT);",
		}},
	}, plan.Steps)

	require.Equal(t, []string{"people", "phones", schemakit.DefaultVersionTableName}, tablesOf(t, db))
	require.Equal(t, []string{"_id", "first_name", "last_name", "middle_init"}, columnsOf(t, db, "people"))
	require.Equal(t, 2, storedVersion(t, engine))

	// Nothing to do once the database is at the model version.
	plan, err = engine.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, migrate.ActionNone, plan.Action)
	require.Empty(t, plan.Steps)
}

func TestEngine_CreateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	engine := newEngine(t, db, peopleModel(t, 2))
	ctx := context.Background()

	require.NoError(t, engine.Create(ctx, 2))
	require.NoError(t, engine.Create(ctx, 2))
	require.Equal(t, []string{"_id", "first_name", "last_name", "middle_init"}, columnsOf(t, db, "people"))
	require.Equal(t, 2, storedVersion(t, engine))
}

func TestEngine_CreateAtEarlierVersion(t *testing.T) {
	db := openTestDB(t)
	engine := newEngine(t, db, peopleModel(t, 3))

	plan, err := engine.MigrateTo(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, migrate.ActionCreate, plan.Action)
	require.Equal(t, []string{"people", schemakit.DefaultVersionTableName}, tablesOf(t, db))
	require.Equal(t, []string{"_id", "first_name", "last_name"}, columnsOf(t, db, "people"))
}

func TestEngine_Upgrade(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := newEngine(t, db, peopleModel(t, 1)).Migrate(ctx)
	require.NoError(t, err)

	engine := newEngine(t, db, peopleModel(t, 2))
	plan, err := engine.Plan(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, migrate.ActionUpgrade, plan.Action)
	require.Equal(t, 1, plan.From)
	require.Equal(t, []migrate.Step{
		{ID: "upgrade/people", Statements: []string{"ALTER TABLE people ADD COLUMN middle_init TEXT;"}},
		{ID: "create/phones", Statements: []string{
			"CREATE TABLE IF NOT EXISTS phones (_id INTEGER PRIMARY KEY AUTOINCREMENT, person_id INTEGER, number TEXT);",
		}},
	}, plan.Steps)

	require.NoError(t, engine.Apply(ctx, plan))
	require.Equal(t, []string{"_id", "first_name", "last_name", "middle_init"}, columnsOf(t, db, "people"))
	require.Equal(t, []string{"_id", "person_id", "number"}, columnsOf(t, db, "phones"))
	require.Equal(t, 2, storedVersion(t, engine))
}

func TestEngine_UpgradeComposition(t *testing.T) {
	ctx := context.Background()

	stepwise := openTestDB(t)
	engine := newEngine(t, stepwise, peopleModel(t, 3))
	require.NoError(t, engine.Create(ctx, 1))
	require.NoError(t, engine.Upgrade(ctx, 1, 2))
	require.NoError(t, engine.Upgrade(ctx, 2, 3))

	direct := openTestDB(t)
	engine = newEngine(t, direct, peopleModel(t, 3))
	require.NoError(t, engine.Create(ctx, 1))
	require.NoError(t, engine.Upgrade(ctx, 1, 3))

	for _, table := range []string{"people", "phones"} {
		assert.ElementsMatch(t, columnsOf(t, direct, table), columnsOf(t, stepwise, table), table)
	}
	require.Equal(t, []string{"_id", "first_name", "last_name", "middle_init", "nickname", "age"}, columnsOf(t, direct, "people"))
	require.Equal(t, []string{"_id", "person_id", "number", "kind"}, columnsOf(t, direct, "phones"))
}

func TestEngine_Downgrade(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	engine := newEngine(t, db, peopleModel(t, 3))
	_, err := engine.MigrateTo(ctx, 3)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO people (_id, first_name, last_name, middle_init, nickname, age) VALUES
		(1, 'John', 'Smith', 'J', 'Johnny', 42),
		(2, 'Jane', 'Doe', NULL, NULL, NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO phones (person_id, number, kind) VALUES (1, '555-0100', 'home')`)
	require.NoError(t, err)

	plan, err := engine.MigrateTo(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, migrate.ActionDowngrade, plan.Action)
	require.Equal(t, 3, plan.From)
	require.Equal(t, 1, plan.To)
	require.Equal(t, []migrate.Step{
		{ID: "rename", Statements: []string{
			"ALTER TABLE people RENAME TO __people;",
			"ALTER TABLE phones RENAME TO __phones;",
		}},
		{ID: "recreate/people", Statements: []string{
			"CREATE TABLE IF NOT EXISTS people (_id INTEGER PRIMARY KEY AUTOINCREMENT, first_name TEXT, last_name TEXT);",
			"INSERT INTO people (_id, first_name, last_name) SELECT _id, first_name, last_name FROM __people;",
		}},
		{ID: "drop", Statements: []string{"DROP TABLE __people;", "DROP TABLE __phones;"}},
	}, plan.Steps)

	require.Equal(t, []string{"people", schemakit.DefaultVersionTableName}, tablesOf(t, db))
	require.Equal(t, []string{"_id", "first_name", "last_name"}, columnsOf(t, db, "people"))
	require.Equal(t, 1, storedVersion(t, engine))

	rows, err := db.Query("SELECT _id, first_name, last_name FROM people ORDER BY _id")
	require.NoError(t, err)
	type person struct {
		id          int
		first, last string
	}
	var people []person
	for rows.Next() {
		var p person
		require.NoError(t, rows.Scan(&p.id, &p.first, &p.last))
		people = append(people, p)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	require.Equal(t, []person{{1, "John", "Smith"}, {2, "Jane", "Doe"}}, people)
}

func TestEngine_DowngradeRestoresUpgradedSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db, peopleModel(t, 3))

	require.NoError(t, engine.Create(ctx, 2))
	before := map[string][]string{"people": columnsOf(t, db, "people"), "phones": columnsOf(t, db, "phones")}
	_, err := db.Exec(`INSERT INTO people (first_name, last_name, middle_init) VALUES ('Ada', 'Lovelace', 'A')`)
	require.NoError(t, err)

	require.NoError(t, engine.Upgrade(ctx, 2, 3))
	require.NoError(t, engine.Downgrade(ctx, 3, 2))

	for table, columns := range before {
		require.Equal(t, columns, columnsOf(t, db, table), table)
	}
	var first, last, middle string
	require.NoError(t, db.QueryRow("SELECT first_name, last_name, middle_init FROM people").Scan(&first, &last, &middle))
	require.Equal(t, []string{"Ada", "Lovelace", "A"}, []string{first, last, middle})
}

func TestEngine_DowngradeKeepsExcludedTables(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db, peopleModel(t, 2), migrate.WithExcludedTables("schema_locks"))
	_, err := engine.Migrate(ctx)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE schema_locks (lock_key TEXT PRIMARY KEY); INSERT INTO schema_locks VALUES ('migrations')")
	require.NoError(t, err)

	plan, err := engine.MigrateTo(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"ALTER TABLE people RENAME TO __people;", "ALTER TABLE phones RENAME TO __phones;"},
		plan.Steps[0].Statements)
	require.Equal(t, []string{"people", "schema_locks", schemakit.DefaultVersionTableName}, tablesOf(t, db))
	var key string
	require.NoError(t, db.QueryRow("SELECT lock_key FROM schema_locks").Scan(&key))
	require.Equal(t, "migrations", key)
}

func TestEngine_DowngradeWithForeignKeys(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	// The child table is declared first, so the plan has to reorder the tables.
	model, err := schema.FromDeclaration(2, [][][]string{
		{
			{"people", "1"},
			{"_id INTEGER PRIMARY KEY", "name TEXT", "company_id INTEGER REFERENCES companies(_id)"},
			{"salary INTEGER"},
		},
		{
			{"companies", "1"},
			{"_id INTEGER PRIMARY KEY", "name TEXT"},
			{"description TEXT"},
		},
	})
	require.NoError(t, err)
	engine := newEngine(t, db, model)
	_, err = engine.Migrate(ctx)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO companies (_id, name, description) VALUES (1, 'Acme', 'Anvils');
		INSERT INTO people (_id, name, company_id, salary) VALUES (1, 'Wile', 1, 100)`)
	require.NoError(t, err)

	plan, err := engine.MigrateTo(ctx, 1)
	require.NoError(t, err)
	var stepIDs []string
	for _, step := range plan.Steps {
		stepIDs = append(stepIDs, step.ID)
	}
	require.Equal(t, []string{"rename", "recreate/companies", "recreate/people", "drop"}, stepIDs)
	require.Equal(t, []string{"DROP TABLE __people;", "DROP TABLE __companies;"}, plan.Steps[3].Statements)

	require.Equal(t, []string{"companies", "people", schemakit.DefaultVersionTableName}, tablesOf(t, db))
	require.Equal(t, []string{"_id", "name", "company_id"}, columnsOf(t, db, "people"))
	require.Equal(t, 1, storedVersion(t, engine))

	var person, company string
	require.NoError(t, db.QueryRow(
		"SELECT p.name, c.name FROM people p JOIN companies c ON c._id = p.company_id").Scan(&person, &company))
	require.Equal(t, []string{"Wile", "Acme"}, []string{person, company})

	// The recreated child references the recreated parent.
	_, err = db.Exec("INSERT INTO people (_id, name, company_id) VALUES (2, 'Road', 42)")
	require.ErrorContains(t, err, "FOREIGN KEY constraint failed")
	parents, err := catalog.New(schemakit.DialectSQLite).ReferencedTables(ctx, db, "people")
	require.NoError(t, err)
	require.Equal(t, []string{"companies"}, parents)

	// The database can be upgraded and downgraded again.
	_, err = engine.Migrate(ctx)
	require.NoError(t, err)
	_, err = engine.MigrateTo(ctx, 1)
	require.NoError(t, err)
}

func TestEngine_DowngradeWithLeftoverTempTable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db, peopleModel(t, 2))
	_, err := engine.Migrate(ctx)
	require.NoError(t, err)

	_, err = db.Exec("CREATE TABLE __people (id INTEGER)")
	require.NoError(t, err)

	_, err = engine.MigrateTo(ctx, 1)
	require.ErrorIs(t, err, migrate.ErrTempTableExists)
	require.Equal(t, 2, storedVersion(t, engine))
	require.Equal(t, []string{"_id", "first_name", "last_name", "middle_init"}, columnsOf(t, db, "people"))
}

func TestEngine_DowngradeWithEmptyColumnList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db, peopleModel(t, 2))

	// The live table shares no columns with its declaration.
	_, err := db.Exec("CREATE TABLE people (legacy_id INTEGER)")
	require.NoError(t, err)
	require.NoError(t, engine.Create(ctx, 2))

	_, err = engine.MigrateTo(ctx, 1)
	require.ErrorIs(t, err, migrate.ErrEmptyColumnList)
	require.Equal(t, []string{"legacy_id"}, columnsOf(t, db, "people"))
}

func TestEngine_FailedUpgrade(t *testing.T) {
	// SQLite refuses to add a NOT NULL column without a default value to a non-empty table.
	badModel := func(t *testing.T) *schema.Model {
		m, err := schema.FromDeclaration(2, [][][]string{{
			{"people", "1"},
			{"_id INTEGER PRIMARY KEY", "first_name TEXT"},
			{"nickname TEXT", "middle_init TEXT NOT NULL"},
		}})
		require.NoError(t, err)
		return m
	}

	t.Run("without transaction leaves schema partially migrated", func(t *testing.T) {
		db := openTestDB(t)
		ctx := context.Background()
		engine := newEngine(t, db, badModel(t))
		require.NoError(t, engine.Create(ctx, 1))
		_, err := db.Exec("INSERT INTO people (first_name) VALUES ('Ada')")
		require.NoError(t, err)

		_, err = engine.Migrate(ctx)
		require.ErrorContains(t, err, "execute step upgrade/people statement 2")
		require.Equal(t, []string{"_id", "first_name", "nickname"}, columnsOf(t, db, "people"))
		require.Equal(t, 1, storedVersion(t, engine))
	})

	t.Run("with transaction rolls back", func(t *testing.T) {
		db := openTestDB(t)
		ctx := context.Background()
		engine := newEngine(t, db, badModel(t), migrate.WithTransaction())
		require.NoError(t, engine.Create(ctx, 1))
		_, err := db.Exec("INSERT INTO people (first_name) VALUES ('Ada')")
		require.NoError(t, err)

		_, err = engine.Migrate(ctx)
		require.ErrorContains(t, err, "execute step upgrade/people statement 2")
		require.Equal(t, []string{"_id", "first_name"}, columnsOf(t, db, "people"))
		require.Equal(t, 1, storedVersion(t, engine))
	})
}

func TestEngine_Options(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	engine := newEngine(t, db, peopleModel(t, 2),
		migrate.WithConfig(schemakit.MigrationConfig{Name: "contacts", VersionTable: "contacts_version"}),
		migrate.WithTempTablePrefix("tmp_"),
	)
	_, err := engine.Migrate(ctx)
	require.NoError(t, err)

	var name string
	var version int
	require.NoError(t, db.QueryRow("SELECT name, version FROM contacts_version").Scan(&name, &version))
	require.Equal(t, "contacts", name)
	require.Equal(t, 2, version)

	plan, err := engine.Plan(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "ALTER TABLE people RENAME TO tmp_people;", plan.Steps[0].Statements[0])

	// Several databases may share one bookkeeping table.
	other := newEngine(t, db, peopleModel(t, 2), migrate.WithDatabaseName("other"), migrate.WithVersionTable("contacts_version"))
	_, ok, err := other.StoredVersion(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEngine_InvalidVersions(t *testing.T) {
	engine := newEngine(t, openTestDB(t), peopleModel(t, 2))
	ctx := context.Background()

	_, err := engine.MigrateTo(ctx, 0)
	require.ErrorIs(t, err, migrate.ErrInvalidVersion)
	_, err = engine.MigrateTo(ctx, 3)
	require.ErrorIs(t, err, migrate.ErrInvalidVersion)
	_, err = engine.Plan(ctx, 3)
	require.ErrorIs(t, err, migrate.ErrInvalidVersion)
	require.ErrorIs(t, engine.Create(ctx, 0), migrate.ErrInvalidVersion)
	require.ErrorIs(t, engine.Upgrade(ctx, 2, 1), migrate.ErrInvalidVersion)
	require.ErrorIs(t, engine.Upgrade(ctx, 1, 1), migrate.ErrInvalidVersion)
	require.ErrorIs(t, engine.Downgrade(ctx, 1, 2), migrate.ErrInvalidVersion)
	require.ErrorIs(t, engine.Downgrade(ctx, 0, 1), migrate.ErrInvalidVersion)
}

func TestNewEngine(t *testing.T) {
	db := openTestDB(t)
	model := peopleModel(t, 2)
	logger := log.NewDisabledLogger()

	_, err := migrate.NewEngine(nil, schemakit.DialectSQLite, model, logger)
	require.EqualError(t, err, "db cannot be nil")
	_, err = migrate.NewEngine(db, schemakit.DialectSQLite, nil, logger)
	require.EqualError(t, err, "model cannot be nil")
	_, err = migrate.NewEngine(db, schemakit.DialectSQLite, model, nil)
	require.EqualError(t, err, "logger cannot be nil")
	_, err = migrate.NewEngine(db, schemakit.Dialect("oracle"), model, logger)
	require.EqualError(t, err, "unsupported dialect: oracle")
	_, err = migrate.NewEngine(db, schemakit.DialectSQLite, model, logger, migrate.WithVersionTable("people"))
	require.EqualError(t, err, "model declares table people reserved for version bookkeeping")
	_, err = migrate.NewEngine(db, schemakit.DialectSQLite, model, logger, migrate.WithTempTablePrefix("pe"))
	require.EqualError(t, err, `model declares tables starting with temporary table prefix "pe"`)
	_, err = migrate.NewEngine(db, schemakit.DialectSQLite, model, logger, migrate.WithDatabaseName(""))
	require.Error(t, err)
}

func TestEngine_StatementFailureWithMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	metrics := schemakit.NewPrometheusMetrics()
	engine := newEngine(t, db, peopleModel(t, 1), migrate.WithMetrics(metrics))

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_version")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "version" FROM "schema_version"`).WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS people")).WillReturnError(errors.New("disk I/O error"))

	plan, err := engine.Migrate(context.Background())
	require.EqualError(t, err, "execute step create/people statement 1: disk I/O error")
	require.Equal(t, migrate.ActionCreate, plan.Action)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, 1, testutil.CollectAndCount(metrics.MigrationDurations))
}

func TestEngine_VersionStoreFailureWithMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	engine := newEngine(t, db, peopleModel(t, 1))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_version")).WillReturnError(errors.New("read-only database"))

	_, err = engine.Migrate(context.Background())
	require.EqualError(t, err, "ensure version table: create version table: read-only database")
	require.NoError(t, mock.ExpectationsWereMet())
}
