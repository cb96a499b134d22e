/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package schemakit

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MakeMSSQLDSN makes DSN for opening MSSQL database.
func MakeMSSQLDSN(cfg *MSSQLConfig) string {
	const dbKeyConfig = "database"
	query := url.Values{}
	query.Add(dbKeyConfig, cfg.Database)

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return urlWithOptionalParameters(u, cfg.AdditionalParameters, map[string]struct{}{dbKeyConfig: {}})
}

// MakeMySQLDSN makes DSN for opening MySQL database.
// Autocommit is left enabled: MySQL DDL commits implicitly, so migrations cannot rely on
// an outer transaction anyway.
func MakeMySQLDSN(cfg *MySQLConfig) string {
	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.DBName = cfg.Database
	c.ParseTime = true
	c.MultiStatements = true
	return c.FormatDSN()
}

// MakePostgresDSN makes DSN for opening Postgres database.
func MakePostgresDSN(cfg *PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = PostgresDefaultSSLMode
	}
	connURI := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     cfg.Database,
		RawQuery: "sslmode=" + url.QueryEscape(string(sslMode)),
	}
	ignore := map[string]struct{}{"sslmode": {}}
	if cfg.SearchPath != "" {
		connURI.RawQuery += "&search_path=" + url.QueryEscape(cfg.SearchPath)
		ignore["search_path"] = struct{}{}
	}
	return urlWithOptionalParameters(connURI, cfg.AdditionalParameters, ignore)
}

// MakeSQLiteDSN makes DSN for opening SQLite database with github.com/mattn/go-sqlite3 driver.
func MakeSQLiteDSN(cfg *SQLiteConfig) string {
	var params []string
	if cfg.ForeignKeys {
		params = append(params, "_foreign_keys=1")
	}
	if cfg.BusyTimeout > 0 {
		params = append(params, "_busy_timeout="+strconv.FormatInt(time.Duration(cfg.BusyTimeout).Milliseconds(), 10))
	}
	if len(params) == 0 {
		return cfg.Path
	}
	sep := "?"
	if strings.Contains(cfg.Path, "?") {
		sep = "&"
	}
	return cfg.Path + sep + strings.Join(params, "&")
}

func isInMemorySQLite(path string) bool {
	if strings.Contains(path, "cache=shared") {
		return false
	}
	return strings.HasPrefix(path, ":memory:") ||
		strings.HasPrefix(path, "file::memory:") ||
		strings.Contains(path, "mode=memory")
}

func urlWithOptionalParameters(u url.URL, params map[string]string, keysToIgnore map[string]struct{}) string {
	if len(params) == 0 {
		return u.String()
	}
	queryParts := make([]string, 0, len(params))
	for k, v := range params {
		if _, ok := keysToIgnore[k]; ok {
			continue
		}
		queryParts = append(queryParts, k+"="+url.QueryEscape(v))
	}
	if len(queryParts) == 0 {
		return u.String()
	}
	sort.Strings(queryParts) // deterministic DSN
	u.RawQuery += "&" + strings.Join(queryParts, "&")
	return u.String()
}
