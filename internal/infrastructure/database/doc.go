// Package database provides SQLite connectivity for the logger gateway.
//
// This package manages:
//   - Database connection with WAL mode so report queries do not block check-ins
//   - Schema migrations read from an fs.FS (the migrations package embeds them)
//   - Transaction helper used by ingestion for all-or-nothing batch writes
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only: new columns must be NULLABLE or have DEFAULT
// values, and every .up.sql has a matching .down.sql.
package database
