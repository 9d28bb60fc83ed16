package database

import (
	"context"
	"fmt"
	"strings"
)

// QuickCheck runs SQLite's built-in quick integrity check.
//
// PRAGMA quick_check verifies page structure without the full index scan
// of integrity_check, which keeps it cheap enough for periodic health
// probes on long-running deployments.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if the engine reports "ok", otherwise the reported finding
func (db *DB) QuickCheck(ctx context.Context) error {
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check query failed: %w", err)
	}
	if !strings.EqualFold(result, "ok") {
		return fmt.Errorf("quick_check reported: %s", result)
	}
	return nil
}

// JournalMode returns the active journal mode (e.g. "wal", "delete").
//
// The read is trivial but still requires a working connection, which is
// exactly what the writability probe wants to exercise.
func (db *DB) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", fmt.Errorf("journal_mode query failed: %w", err)
	}
	return mode, nil
}

// PageCount returns the database size in pages.
func (db *DB) PageCount(ctx context.Context) (int64, error) {
	var pages int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, fmt.Errorf("page_count query failed: %w", err)
	}
	return pages, nil
}
