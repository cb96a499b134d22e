/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package testing starts disposable database servers in Docker containers for integration tests.
package testing

import (
	"context"
	"database/sql"
	"fmt"
	gotesting "testing"
	"time"

	_ "github.com/go-sql-driver/mysql" // register "mysql" driver
	_ "github.com/jackc/pgx/v5/stdlib" // register "pgx" driver
	_ "github.com/lib/pq"              // register "postgres" driver
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mariadb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Container images used by integration tests.
const (
	PostgresImage = "postgres:16-alpine"
	MariaDBImage  = "mariadb:11.4"
)

const (
	testDatabase = "schemakit_test"
	testUser     = "schemakit"
	testPassword = "schemakit"
)

// StopFunc terminates the container.
type StopFunc func(ctx context.Context) error

// RunAndOpenTestDB starts a database server for the driver ("postgres", "pgx" or "mysql")
// and opens a connection pool to it.
func RunAndOpenTestDB(ctx context.Context, driverName string) (*sql.DB, StopFunc, error) {
	var (
		container testcontainers.Container
		dsn       string
		err       error
	)
	switch driverName {
	case "postgres", "pgx":
		var pgContainer *postgres.PostgresContainer
		pgContainer, err = postgres.Run(ctx, PostgresImage,
			postgres.WithDatabase(testDatabase),
			postgres.WithUsername(testUser),
			postgres.WithPassword(testPassword),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(time.Minute)),
		)
		if pgContainer != nil {
			container = pgContainer
		}
		if err == nil {
			dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		}
	case "mysql":
		var mariaContainer *mariadb.MariaDBContainer
		mariaContainer, err = mariadb.Run(ctx, MariaDBImage,
			mariadb.WithDatabase(testDatabase),
			mariadb.WithUsername(testUser),
			mariadb.WithPassword(testPassword),
		)
		if mariaContainer != nil {
			container = mariaContainer
		}
		if err == nil {
			dsn, err = mariaContainer.ConnectionString(ctx, "parseTime=true", "multiStatements=true")
		}
	default:
		return nil, nil, fmt.Errorf("unsupported driver: %s", driverName)
	}

	stop := func(ctx context.Context) error {
		if container == nil {
			return nil
		}
		return container.Terminate(ctx)
	}
	if err != nil {
		_ = stop(ctx)
		return nil, nil, fmt.Errorf("run %s container: %w", driverName, err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		_ = stop(ctx)
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = stop(ctx)
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return db, func(ctx context.Context) error {
		closeErr := db.Close()
		if stopErr := stop(ctx); stopErr != nil {
			return stopErr
		}
		return closeErr
	}, nil
}

// MustRunAndOpenTestDB is like RunAndOpenTestDB but panics on error.
func MustRunAndOpenTestDB(ctx context.Context, driverName string) (*sql.DB, StopFunc) {
	db, stop, err := RunAndOpenTestDB(ctx, driverName)
	if err != nil {
		panic(err)
	}
	return db, stop
}

// RequireTestDB starts a database server for the test and stops it on cleanup.
// The test is skipped in short mode and when Docker is not available.
func RequireTestDB(t *gotesting.T, ctx context.Context, driverName string) *sql.DB {
	t.Helper()
	if gotesting.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	db, stop, err := RunAndOpenTestDB(ctx, driverName)
	if err != nil {
		t.Fatalf("run test database: %v", err)
	}
	t.Cleanup(func() {
		if stopErr := stop(context.Background()); stopErr != nil {
			t.Errorf("stop test database: %v", stopErr)
		}
	})
	return db
}
