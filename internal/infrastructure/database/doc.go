// Package database provides SQLite connectivity for the dispenser core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Forward-only schema migrations from an embedded filesystem
//   - Classification helpers for SQLite lock and constraint failures
//
// The pool is pinned to one connection. SQLite allows a single writer, and
// the ":memory:" database used by tests only lives on its own connection.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files live in the top-level migrations package and are named
// YYYYMMDD_HHMMSS_description.up.sql. New columns must be nullable or carry
// a default so older binaries keep working against a newer schema.
package database
