package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Path:        filepath.Join(t.TempDir(), "meshbridge.db"),
		WALMode:     true,
		BusyTimeout: 5,
	}
}

// TestOpen verifies database creation and connection.
func TestOpen(t *testing.T) {
	t.Run("creates database file", func(t *testing.T) {
		cfg := testConfig(t)
		db, err := Open(cfg)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close()

		if db.Path() != cfg.Path {
			t.Errorf("Path() = %q, want %q", db.Path(), cfg.Path)
		}
	})

	t.Run("creates nested directory", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Path = filepath.Join(filepath.Dir(cfg.Path), "nested", "deep", "meshbridge.db")
		db, err := Open(cfg)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		db.Close()
	})
}

// TestHealthCheck verifies the liveness query.
func TestHealthCheck(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

// TestIntegrityProbes verifies the probes used by the I/O health monitor.
func TestIntegrityProbes(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	t.Run("quick check passes on fresh database", func(t *testing.T) {
		if err := db.QuickCheck(ctx); err != nil {
			t.Errorf("QuickCheck() error = %v", err)
		}
	})

	t.Run("journal mode reflects WAL setting", func(t *testing.T) {
		mode, err := db.JournalMode(ctx)
		if err != nil {
			t.Fatalf("JournalMode() error = %v", err)
		}
		if !strings.EqualFold(mode, "wal") {
			t.Errorf("JournalMode() = %q, want wal", mode)
		}
	})

	t.Run("page count is positive", func(t *testing.T) {
		pages, err := db.PageCount(ctx)
		if err != nil {
			t.Fatalf("PageCount() error = %v", err)
		}
		if pages < 1 {
			t.Errorf("PageCount() = %d, want >= 1", pages)
		}
	})
}

// TestClose verifies close is safe and idempotent on the wrapper level.
func TestClose(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
