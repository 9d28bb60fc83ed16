// Package database provides SQLite connectivity for meshbridge.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Connection pooling and lifecycle management
//   - Integrity and writability probes (quick_check, journal_mode,
//     page_count) used by the I/O health monitor
//
// The bridge core stores no domain data of its own; the database exists as
// a storage-probe target and for whatever persistence the surrounding bot
// layers in on top.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
package database
