/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package schemakit_test

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	applog "github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/retry"

	"github.com/acronis/go-schemakit"
	"github.com/acronis/go-schemakit/helper"
	"github.com/acronis/go-schemakit/schema"

	// Import the `sqlite` package for registering the retryable function for SQLite busy errors.
	_ "github.com/acronis/go-schemakit/sqlite"
)

func Example() {
	cfg := &schemakit.Config{
		Dialect:      schemakit.DialectSQLite,
		SQLite:       schemakit.SQLiteConfig{Path: ":memory:"},
		MaxOpenConns: 1,
		Migration:    schemakit.DefaultMigrationConfig(),
	}

	// Each table lists its first version and the columns added by every version since then.
	model, err := schema.FromDeclaration(2, [][][]string{
		{{"people", "1"}, {"_id INTEGER PRIMARY KEY", "name TEXT"}, {"email TEXT"}},
	})
	if err != nil {
		log.Fatal(err)
	}

	// Open the database and bring it to the model version.
	ctx := context.Background()
	h, err := helper.Open(ctx, cfg, model, applog.NewDisabledLogger())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer h.Close() // nolint: errcheck

	version, _, err := h.Version(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("schema version %d\n", version)

	// Execute a transaction with a custom retry policy (constant backoff with 3 retries).
	retryPolicy := retry.NewConstantBackoffPolicy(10*time.Millisecond, 3)
	if err = schemakit.DoInTx(ctx, h.DB(), func(tx *sql.Tx) error {
		_, execErr := tx.Exec("INSERT INTO people (name, email) VALUES ('John', 'john@example.com')")
		return execErr
	}, schemakit.WithRetryPolicy(retryPolicy)); err != nil {
		log.Fatal(err)
	}

	doc, err := h.Export(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("exported %d record(s)\n", doc.RecordsCount())

	// Output:
	// schema version 2
	// exported 1 record(s)
}
