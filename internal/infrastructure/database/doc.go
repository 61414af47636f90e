// Package database opens the SQLite store used for publish and subscribe
// history and applies its schema migrations.
//
// Connections use a single pooled handle (SQLite has one writer), a busy
// timeout and optional WAL mode. Files are created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := migrations.Apply(ctx, db); err != nil {
//	    return err
//	}
//
// Migration files are named "<version>_<name>.up.sql" with an optional
// ".down.sql" partner. Each migration runs in its own transaction.
package database
