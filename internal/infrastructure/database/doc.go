// Package database provides the SQLite state database used by the harness
// to index fetched lightningd artifacts.
//
// Migrations are plain SQL file pairs (YYYYMMDD_HHMMSS_<name>.up.sql and
// .down.sql) registered once from an embedded filesystem. Each migration
// runs in its own transaction and is recorded in schema_migrations.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
