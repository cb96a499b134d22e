/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package distrlock

import (
	"fmt"
	"strconv"
	"time"

	"github.com/acronis/go-schemakit"
)

type dbQueries struct {
	createTable   string
	dropTable     string
	initLock      string
	acquireLock   string
	releaseLock   string
	extendLock    string
	intervalMaker func(interval time.Duration) interface{}
}

func newDBQueries(dialect schemakit.Dialect, tableName string) (dbQueries, error) {
	switch dialect {
	case schemakit.DialectPostgres, schemakit.DialectPgx:
		return makeDBQueries(tableName, postgresQueries, postgresMakeInterval), nil
	case schemakit.DialectMySQL:
		return makeDBQueries(tableName, mySQLQueries, microseconds), nil
	case schemakit.DialectSQLite:
		return makeDBQueries(tableName, sqliteQueries, microseconds), nil
	default:
		return dbQueries{}, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
}

// queryTemplates are formatted with the table name.
type queryTemplates struct {
	createTable string
	dropTable   string
	initLock    string
	acquireLock string
	releaseLock string
	extendLock  string
}

func makeDBQueries(tableName string, t queryTemplates, intervalMaker func(time.Duration) interface{}) dbQueries {
	return dbQueries{
		createTable:   fmt.Sprintf(t.createTable, tableName),
		dropTable:     fmt.Sprintf(t.dropTable, tableName),
		initLock:      fmt.Sprintf(t.initLock, tableName),
		acquireLock:   fmt.Sprintf(t.acquireLock, tableName),
		releaseLock:   fmt.Sprintf(t.releaseLock, tableName),
		extendLock:    fmt.Sprintf(t.extendLock, tableName),
		intervalMaker: intervalMaker,
	}
}

//nolint:lll
var postgresQueries = queryTemplates{
	createTable: `CREATE TABLE IF NOT EXISTS "%s" (lock_key varchar(40) PRIMARY KEY, token uuid, expire_at timestamp);`,
	dropTable:   `DROP TABLE IF EXISTS "%s";`,
	initLock:    `INSERT INTO "%s" (lock_key) VALUES ($1) ON CONFLICT (lock_key) DO NOTHING;`,
	acquireLock: `UPDATE "%s" SET expire_at = NOW() + $1::interval, token = $2 WHERE lock_key = $3 AND ((expire_at IS NULL OR expire_at < NOW()) OR token = $4);`,
	releaseLock: `UPDATE "%s" SET expire_at = NULL WHERE lock_key = $1 AND token = $2 AND expire_at >= NOW();`,
	extendLock:  `UPDATE "%s" SET expire_at = NOW() + $1::interval WHERE lock_key = $2 AND token = $3 AND expire_at >= NOW();`,
}

func postgresMakeInterval(interval time.Duration) interface{} {
	return strconv.FormatInt(interval.Microseconds(), 10) + " microseconds"
}

// expire_at keeps tenths of milliseconds since the epoch.
//
//nolint:lll
var mySQLQueries = queryTemplates{
	createTable: "CREATE TABLE IF NOT EXISTS `%s` (lock_key VARCHAR(40) PRIMARY KEY, token VARCHAR(36), expire_at BIGINT);",
	dropTable:   "DROP TABLE IF EXISTS `%s`;",
	initLock:    "INSERT IGNORE `%s` (lock_key) VALUES (?);",
	acquireLock: "UPDATE `%s` SET expire_at = UNIX_TIMESTAMP(DATE_ADD(NOW(4), INTERVAL ? MICROSECOND))*10000, token = ? WHERE lock_key = ? AND ((expire_at IS NULL OR expire_at < UNIX_TIMESTAMP(NOW(4))*10000) OR token = ?);",
	releaseLock: "UPDATE `%s` SET expire_at = NULL WHERE lock_key = ? AND token = ? AND expire_at >= UNIX_TIMESTAMP(NOW(4))*10000;",
	extendLock:  "UPDATE `%s` SET expire_at = UNIX_TIMESTAMP(DATE_ADD(NOW(4), INTERVAL ? MICROSECOND))*10000 WHERE lock_key = ? AND token = ? AND expire_at >= UNIX_TIMESTAMP(NOW(4))*10000;",
}

// sqliteNow is the current time in microseconds since the epoch.
const sqliteNow = "CAST((julianday('now') - 2440587.5) * 86400000000 AS INTEGER)"

//nolint:lll
var sqliteQueries = queryTemplates{
	createTable: `CREATE TABLE IF NOT EXISTS "%s" (lock_key VARCHAR(40) PRIMARY KEY, token VARCHAR(36), expire_at INTEGER);`,
	dropTable:   `DROP TABLE IF EXISTS "%s";`,
	initLock:    `INSERT OR IGNORE INTO "%s" (lock_key) VALUES (?);`,
	acquireLock: `UPDATE "%s" SET expire_at = ` + sqliteNow + ` + ?, token = ? WHERE lock_key = ? AND ((expire_at IS NULL OR expire_at < ` + sqliteNow + `) OR token = ?);`,
	releaseLock: `UPDATE "%s" SET expire_at = NULL WHERE lock_key = ? AND token = ? AND expire_at >= ` + sqliteNow + `;`,
	extendLock:  `UPDATE "%s" SET expire_at = ` + sqliteNow + ` + ? WHERE lock_key = ? AND token = ? AND expire_at >= ` + sqliteNow + `;`,
}

func microseconds(interval time.Duration) interface{} {
	return interval.Microseconds()
}
