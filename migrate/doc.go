/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package migrate moves a live database between versions of a declarative schema.Model.
//
// The stored version lives in a bookkeeping table (schema_version by default) keyed by the database name.
// Depending on the stored version the Engine runs one of three transitions:
//   - create: no version is stored yet; every table that exists at the target version is created
//     with CREATE TABLE IF NOT EXISTS, so repeating it is harmless;
//   - upgrade: tables that existed at the stored version get ALTER TABLE ... ADD COLUMN statements
//     for the columns introduced after it, tables introduced later are created;
//   - downgrade: live tables are renamed with a temporary prefix, recreated at the target version,
//     the columns that survive are copied back and the temporary tables are dropped.
//
// DDL is not transactional on most engines, so a failed migration may leave the schema partially
// migrated. WithTransaction runs the whole migration in one transaction on engines that support it.
//
// Basic usage:
//
//	model, err := schema.LoadFS(schemaFS, "schema.yml")
//	if err != nil {
//	    return err
//	}
//	engine, err := migrate.NewEngine(db, schemakit.DialectSQLite, model, logger)
//	if err != nil {
//	    return err
//	}
//	plan, err := engine.Migrate(ctx)
package migrate
