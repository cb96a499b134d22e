/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package schemakit

import (
	"database/sql"
	"fmt"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "db"

const (
	cfgKeyDialect         = "dialect"
	cfgKeyMaxIdleConns    = "maxIdleConns"
	cfgKeyMaxOpenConns    = "maxOpenConns"
	cfgKeyConnMaxLifetime = "connMaxLifeTime"

	cfgKeyMySQLHost     = "mysql.host"
	cfgKeyMySQLPort     = "mysql.port"
	cfgKeyMySQLDatabase = "mysql.database"
	cfgKeyMySQLUser     = "mysql.user"
	cfgKeyMySQLPassword = "mysql.password" //nolint: gosec
	cfgKeyMySQLTxLevel  = "mysql.txLevel"

	cfgKeySQLitePath        = "sqlite3.path"
	cfgKeySQLiteForeignKeys = "sqlite3.foreignKeys"
	cfgKeySQLiteBusyTimeout = "sqlite3.busyTimeout"

	cfgKeyPostgresHost             = "postgres.host"
	cfgKeyPostgresPort             = "postgres.port"
	cfgKeyPostgresDatabase         = "postgres.database"
	cfgKeyPostgresUser             = "postgres.user"
	cfgKeyPostgresPassword         = "postgres.password" //nolint: gosec
	cfgKeyPostgresTxLevel          = "postgres.txLevel"
	cfgKeyPostgresSSLMode          = "postgres.sslMode"
	cfgKeyPostgresSearchPath       = "postgres.searchPath"
	cfgKeyPostgresAdditionalParams = "postgres.additionalParameters"

	cfgKeyMSSQLHost             = "mssql.host"
	cfgKeyMSSQLPort             = "mssql.port"
	cfgKeyMSSQLDatabase         = "mssql.database"
	cfgKeyMSSQLUser             = "mssql.user"
	cfgKeyMSSQLPassword         = "mssql.password" //nolint: gosec
	cfgKeyMSSQLTxLevel          = "mssql.txLevel"
	cfgKeyMSSQLAdditionalParams = "mssql.additionalParameters"

	cfgKeyMigrationName           = "migration.name"
	cfgKeyMigrationVersionTable   = "migration.versionTable"
	cfgKeyMigrationTempPrefix     = "migration.tempTablePrefix"
	cfgKeyMigrationTransactional  = "migration.transactional"
	cfgKeyMigrationDocumentFormat = "migration.documentFormat"
	cfgKeyMigrationMaxCleanPasses = "migration.maxCleanPasses"
	cfgKeyMigrationStrictTables   = "migration.strictTables"
)

// Default values for the migration section.
const (
	DefaultDatabaseName   = "main"
	DefaultDocumentFormat = "xml"
	DefaultMaxCleanPasses = 10
)

// Config represents a set of configuration parameters for opening a versioned SQL database
// and for migrating, exporting and importing it.
type Config struct {
	Dialect         Dialect             `mapstructure:"dialect" yaml:"dialect" json:"dialect"`
	MaxOpenConns    int                 `mapstructure:"maxOpenConns" yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int                 `mapstructure:"maxIdleConns" yaml:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime config.TimeDuration `mapstructure:"connMaxLifeTime" yaml:"connMaxLifeTime" json:"connMaxLifeTime"`
	MySQL           MySQLConfig         `mapstructure:"mysql" yaml:"mysql" json:"mysql"`
	MSSQL           MSSQLConfig         `mapstructure:"mssql" yaml:"mssql" json:"mssql"`
	SQLite          SQLiteConfig        `mapstructure:"sqlite3" yaml:"sqlite3" json:"sqlite3"`
	Postgres        PostgresConfig      `mapstructure:"postgres" yaml:"postgres" json:"postgres"`
	Migration       MigrationConfig     `mapstructure:"migration" yaml:"migration" json:"migration"`

	keyPrefix         string
	supportedDialects []Dialect
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// MySQLConfig represents a set of configuration parameters for working with MySQL.
type MySQLConfig struct {
	Host             string         `mapstructure:"host" yaml:"host" json:"host"`
	Port             int            `mapstructure:"port" yaml:"port" json:"port"`
	User             string         `mapstructure:"user" yaml:"user" json:"user"`
	Password         string         `mapstructure:"password" yaml:"password" json:"password"`
	Database         string         `mapstructure:"database" yaml:"database" json:"database"`
	TxIsolationLevel IsolationLevel `mapstructure:"txLevel" yaml:"txLevel" json:"txLevel"`
}

// MSSQLConfig represents a set of configuration parameters for working with MSSQL.
type MSSQLConfig struct {
	Host                 string            `mapstructure:"host" yaml:"host" json:"host"`
	Port                 int               `mapstructure:"port" yaml:"port" json:"port"`
	User                 string            `mapstructure:"user" yaml:"user" json:"user"`
	Password             string            `mapstructure:"password" yaml:"password" json:"password"`
	Database             string            `mapstructure:"database" yaml:"database" json:"database"`
	TxIsolationLevel     IsolationLevel    `mapstructure:"txLevel" yaml:"txLevel" json:"txLevel"`
	AdditionalParameters map[string]string `mapstructure:"additionalParameters" yaml:"additionalParameters" json:"additionalParameters"`
}

// SQLiteConfig represents a set of configuration parameters for working with SQLite.
type SQLiteConfig struct {
	Path        string              `mapstructure:"path" yaml:"path" json:"path"`
	ForeignKeys bool                `mapstructure:"foreignKeys" yaml:"foreignKeys" json:"foreignKeys"`
	BusyTimeout config.TimeDuration `mapstructure:"busyTimeout" yaml:"busyTimeout" json:"busyTimeout"`
}

// PostgresConfig represents a set of configuration parameters for working with Postgres.
type PostgresConfig struct {
	Host                 string            `mapstructure:"host" yaml:"host" json:"host"`
	Port                 int               `mapstructure:"port" yaml:"port" json:"port"`
	User                 string            `mapstructure:"user" yaml:"user" json:"user"`
	Password             string            `mapstructure:"password" yaml:"password" json:"password"`
	Database             string            `mapstructure:"database" yaml:"database" json:"database"`
	TxIsolationLevel     IsolationLevel    `mapstructure:"txLevel" yaml:"txLevel" json:"txLevel"`
	SSLMode              PostgresSSLMode   `mapstructure:"sslMode" yaml:"sslMode" json:"sslMode"`
	SearchPath           string            `mapstructure:"searchPath" yaml:"searchPath" json:"searchPath"`
	AdditionalParameters map[string]string `mapstructure:"additionalParameters" yaml:"additionalParameters" json:"additionalParameters"`
}

// MigrationConfig represents parameters of schema migrations and document export/import.
type MigrationConfig struct {
	// Name identifies the versioned database in the bookkeeping table.
	Name string `mapstructure:"name" yaml:"name" json:"name"`
	// VersionTable is the bookkeeping table that stores the schema version.
	VersionTable string `mapstructure:"versionTable" yaml:"versionTable" json:"versionTable"`
	// TempTablePrefix is prepended to table names during downgrades.
	TempTablePrefix string `mapstructure:"tempTablePrefix" yaml:"tempTablePrefix" json:"tempTablePrefix"`
	// Transactional makes migrations run in one transaction (SQLite and Postgres only).
	Transactional bool `mapstructure:"transactional" yaml:"transactional" json:"transactional"`
	// DocumentFormat is the default format of exported/imported documents: xml, json or yaml.
	DocumentFormat string `mapstructure:"documentFormat" yaml:"documentFormat" json:"documentFormat"`
	// MaxCleanPasses limits the number of passes that clean tables before a non-append import.
	MaxCleanPasses int `mapstructure:"maxCleanPasses" yaml:"maxCleanPasses" json:"maxCleanPasses"`
	// StrictTables makes import fail when the document contains a table unknown to the database.
	StrictTables bool `mapstructure:"strictTables" yaml:"strictTables" json:"strictTables"`
}

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(supportedDialects []Dialect, options ...ConfigOption) *Config {
	opts := makeConfigOptions(options)
	return &Config{supportedDialects: supportedDialects, keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(supportedDialects []Dialect, options ...ConfigOption) *Config {
	opts := makeConfigOptions(options)
	return &Config{
		keyPrefix:         opts.keyPrefix,
		supportedDialects: supportedDialects,
		MaxOpenConns:      DefaultMaxOpenConns,
		MaxIdleConns:      DefaultMaxIdleConns,
		ConnMaxLifetime:   config.TimeDuration(DefaultConnMaxLifetime),
		MySQL:             MySQLConfig{TxIsolationLevel: IsolationLevel(MySQLDefaultTxLevel)},
		Postgres: PostgresConfig{
			TxIsolationLevel: IsolationLevel(PostgresDefaultTxLevel),
			SSLMode:          PostgresDefaultSSLMode,
		},
		MSSQL:     MSSQLConfig{TxIsolationLevel: IsolationLevel(MSSQLDefaultTxLevel)},
		Migration: DefaultMigrationConfig(),
	}
}

// DefaultMigrationConfig returns the migration section filled with default values.
func DefaultMigrationConfig() MigrationConfig {
	return MigrationConfig{
		Name:            DefaultDatabaseName,
		VersionTable:    DefaultVersionTableName,
		TempTablePrefix: DefaultTempTablePrefix,
		DocumentFormat:  DefaultDocumentFormat,
		MaxCleanPasses:  DefaultMaxCleanPasses,
	}
}

func makeConfigOptions(options []ConfigOption) configOptions {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SupportedDialects returns the list of supported dialects.
func (c *Config) SupportedDialects() []Dialect {
	if len(c.supportedDialects) != 0 {
		return c.supportedDialects
	}
	return []Dialect{DialectSQLite, DialectMySQL, DialectPostgres, DialectPgx, DialectMSSQL}
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxOpenConns, DefaultMaxOpenConns)
	dp.SetDefault(cfgKeyMaxIdleConns, DefaultMaxIdleConns)
	dp.SetDefault(cfgKeyConnMaxLifetime, DefaultConnMaxLifetime)
	dp.SetDefault(cfgKeyMySQLTxLevel, MySQLDefaultTxLevel.String())
	dp.SetDefault(cfgKeyPostgresTxLevel, PostgresDefaultTxLevel.String())
	dp.SetDefault(cfgKeyPostgresSSLMode, string(PostgresDefaultSSLMode))
	dp.SetDefault(cfgKeyMSSQLTxLevel, MSSQLDefaultTxLevel.String())
	dp.SetDefault(cfgKeyMigrationName, DefaultDatabaseName)
	dp.SetDefault(cfgKeyMigrationVersionTable, DefaultVersionTableName)
	dp.SetDefault(cfgKeyMigrationTempPrefix, DefaultTempTablePrefix)
	dp.SetDefault(cfgKeyMigrationDocumentFormat, DefaultDocumentFormat)
	dp.SetDefault(cfgKeyMigrationMaxCleanPasses, DefaultMaxCleanPasses)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	if err := c.setDialectSpecificConfig(dp); err != nil {
		return err
	}
	if err := c.setPoolConfig(dp); err != nil {
		return err
	}
	return c.setMigrationConfig(dp)
}

// TxIsolationLevel returns transaction isolation level from parsed config for specified dialect.
func (c *Config) TxIsolationLevel() sql.IsolationLevel {
	switch c.Dialect {
	case DialectMySQL:
		return sql.IsolationLevel(c.MySQL.TxIsolationLevel)
	case DialectPostgres, DialectPgx:
		return sql.IsolationLevel(c.Postgres.TxIsolationLevel)
	case DialectMSSQL:
		return sql.IsolationLevel(c.MSSQL.TxIsolationLevel)
	}
	return sql.LevelDefault
}

// DriverNameAndDSN returns driver name and DSN for connecting.
func (c *Config) DriverNameAndDSN() (driverName, dsn string) {
	switch c.Dialect {
	case DialectMySQL:
		return "mysql", MakeMySQLDSN(&c.MySQL)
	case DialectSQLite:
		return "sqlite3", MakeSQLiteDSN(&c.SQLite)
	case DialectPostgres:
		return "postgres", MakePostgresDSN(&c.Postgres)
	case DialectPgx:
		return "pgx", MakePostgresDSN(&c.Postgres)
	case DialectMSSQL:
		return "sqlserver", MakeMSSQLDSN(&c.MSSQL)
	}
	return "", ""
}

func (c *Config) setPoolConfig(dp config.DataProvider) error {
	maxOpenConns, err := dp.GetInt(cfgKeyMaxOpenConns)
	if err != nil {
		return err
	}
	if maxOpenConns < 0 {
		return dp.WrapKeyErr(cfgKeyMaxOpenConns, fmt.Errorf("must be positive"))
	}
	maxIdleConns, err := dp.GetInt(cfgKeyMaxIdleConns)
	if err != nil {
		return err
	}
	if maxIdleConns < 0 {
		return dp.WrapKeyErr(cfgKeyMaxIdleConns, fmt.Errorf("must be positive"))
	}
	if maxIdleConns > 0 && maxOpenConns > 0 && maxIdleConns > maxOpenConns {
		return dp.WrapKeyErr(cfgKeyMaxIdleConns, fmt.Errorf("must be less than %s", cfgKeyMaxOpenConns))
	}
	c.MaxOpenConns = maxOpenConns
	c.MaxIdleConns = maxIdleConns

	connMaxLifeTime, err := dp.GetDuration(cfgKeyConnMaxLifetime)
	if err != nil {
		return err
	}
	c.ConnMaxLifetime = config.TimeDuration(connMaxLifeTime)
	return nil
}

func (c *Config) setMigrationConfig(dp config.DataProvider) error {
	var err error
	m := &c.Migration

	if m.Name, err = dp.GetString(cfgKeyMigrationName); err != nil {
		return err
	}
	if m.Name == "" {
		return dp.WrapKeyErr(cfgKeyMigrationName, fmt.Errorf("cannot be empty"))
	}
	if m.VersionTable, err = dp.GetString(cfgKeyMigrationVersionTable); err != nil {
		return err
	}
	if m.VersionTable == "" {
		return dp.WrapKeyErr(cfgKeyMigrationVersionTable, fmt.Errorf("cannot be empty"))
	}
	if m.TempTablePrefix, err = dp.GetString(cfgKeyMigrationTempPrefix); err != nil {
		return err
	}
	if m.TempTablePrefix == "" {
		return dp.WrapKeyErr(cfgKeyMigrationTempPrefix, fmt.Errorf("cannot be empty"))
	}
	if m.Transactional, err = dp.GetBool(cfgKeyMigrationTransactional); err != nil {
		return err
	}
	if m.Transactional && c.Dialect != DialectSQLite && !c.Dialect.IsPostgres() {
		return dp.WrapKeyErr(cfgKeyMigrationTransactional,
			fmt.Errorf("transactional DDL is not supported by %s dialect", c.Dialect))
	}
	if m.DocumentFormat, err = dp.GetStringFromSet(cfgKeyMigrationDocumentFormat, []string{"xml", "json", "yaml"}, true); err != nil {
		return err
	}
	if m.MaxCleanPasses, err = dp.GetInt(cfgKeyMigrationMaxCleanPasses); err != nil {
		return err
	}
	if m.MaxCleanPasses <= 0 {
		return dp.WrapKeyErr(cfgKeyMigrationMaxCleanPasses, fmt.Errorf("must be positive"))
	}
	if m.StrictTables, err = dp.GetBool(cfgKeyMigrationStrictTables); err != nil {
		return err
	}
	return nil
}

func (c *Config) setDialectSpecificConfig(dp config.DataProvider) error {
	var supportedDialectsStr []string
	for _, dialect := range c.SupportedDialects() {
		supportedDialectsStr = append(supportedDialectsStr, string(dialect))
	}
	dialectStr, err := dp.GetStringFromSet(cfgKeyDialect, supportedDialectsStr, false)
	if err != nil {
		return err
	}
	c.Dialect = Dialect(dialectStr)

	switch c.Dialect {
	case DialectMySQL:
		return c.setMySQLConfig(dp)
	case DialectSQLite:
		return c.setSQLiteConfig(dp)
	case DialectPostgres, DialectPgx:
		return c.setPostgresConfig(dp)
	case DialectMSSQL:
		return c.setMSSQLConfig(dp)
	}
	return nil
}

type serverKeys struct {
	host, port, user, password, database, txLevel string
}

// getServerParams reads connection parameters common for all client-server dialects.
func getServerParams(dp config.DataProvider, keys serverKeys) (
	host string, port int, user, password, database string, txLevel IsolationLevel, err error,
) {
	if host, err = dp.GetString(keys.host); err != nil {
		return
	}
	if port, err = dp.GetInt(keys.port); err != nil {
		return
	}
	if user, err = dp.GetString(keys.user); err != nil {
		return
	}
	if password, err = dp.GetString(keys.password); err != nil {
		return
	}
	if database, err = dp.GetString(keys.database); err != nil {
		return
	}
	txLevel, err = getIsolationLevel(dp, keys.txLevel)
	return
}

func (c *Config) setMySQLConfig(dp config.DataProvider) error {
	var err error
	m := &c.MySQL
	m.Host, m.Port, m.User, m.Password, m.Database, m.TxIsolationLevel, err = getServerParams(dp, serverKeys{
		cfgKeyMySQLHost, cfgKeyMySQLPort, cfgKeyMySQLUser, cfgKeyMySQLPassword, cfgKeyMySQLDatabase, cfgKeyMySQLTxLevel,
	})
	return err
}

func (c *Config) setMSSQLConfig(dp config.DataProvider) error {
	var err error
	m := &c.MSSQL
	m.Host, m.Port, m.User, m.Password, m.Database, m.TxIsolationLevel, err = getServerParams(dp, serverKeys{
		cfgKeyMSSQLHost, cfgKeyMSSQLPort, cfgKeyMSSQLUser, cfgKeyMSSQLPassword, cfgKeyMSSQLDatabase, cfgKeyMSSQLTxLevel,
	})
	if err != nil {
		return err
	}
	additionalParams, err := dp.GetStringMapString(cfgKeyMSSQLAdditionalParams)
	if err != nil {
		return err
	}
	if len(additionalParams) != 0 {
		m.AdditionalParameters = additionalParams
	}
	return nil
}

func (c *Config) setPostgresConfig(dp config.DataProvider) error {
	var err error
	p := &c.Postgres
	p.Host, p.Port, p.User, p.Password, p.Database, p.TxIsolationLevel, err = getServerParams(dp, serverKeys{
		cfgKeyPostgresHost, cfgKeyPostgresPort, cfgKeyPostgresUser, cfgKeyPostgresPassword, cfgKeyPostgresDatabase, cfgKeyPostgresTxLevel,
	})
	if err != nil {
		return err
	}
	if p.SearchPath, err = dp.GetString(cfgKeyPostgresSearchPath); err != nil {
		return err
	}
	additionalParams, err := dp.GetStringMapString(cfgKeyPostgresAdditionalParams)
	if err != nil {
		return err
	}
	if len(additionalParams) != 0 {
		p.AdditionalParameters = additionalParams
	}
	// Patroni read-only replicas must never receive DDL, so pgx always asks for a read-write session
	// unless the parameter is set explicitly.
	if c.Dialect == DialectPgx {
		if _, ok := p.AdditionalParameters[PgTargetSessionAttrs]; !ok {
			if p.AdditionalParameters == nil {
				p.AdditionalParameters = make(map[string]string)
			}
			p.AdditionalParameters[PgTargetSessionAttrs] = PgReadWriteParam
		}
	}

	sslMode, err := dp.GetStringFromSet(cfgKeyPostgresSSLMode, []string{
		string(PostgresSSLModeDisable),
		string(PostgresSSLModeRequire),
		string(PostgresSSLModeVerifyCA),
		string(PostgresSSLModeVerifyFull),
	}, false)
	if err != nil {
		return err
	}
	p.SSLMode = PostgresSSLMode(sslMode)
	return nil
}

func (c *Config) setSQLiteConfig(dp config.DataProvider) error {
	var err error
	if c.SQLite.Path, err = dp.GetString(cfgKeySQLitePath); err != nil {
		return err
	}
	if c.SQLite.ForeignKeys, err = dp.GetBool(cfgKeySQLiteForeignKeys); err != nil {
		return err
	}
	busyTimeout, err := dp.GetDuration(cfgKeySQLiteBusyTimeout)
	if err != nil {
		return err
	}
	if busyTimeout < 0 {
		return dp.WrapKeyErr(cfgKeySQLiteBusyTimeout, fmt.Errorf("must be positive"))
	}
	c.SQLite.BusyTimeout = config.TimeDuration(busyTimeout)
	return nil
}

// Postgres connection parameters used for Patroni-aware connections.
const (
	PgTargetSessionAttrs = "target_session_attrs"
	PgReadWriteParam     = "read-write"
)
