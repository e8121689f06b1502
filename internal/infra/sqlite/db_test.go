package sqlite

import (
	"path/filepath"
	"testing"
)

func TestNewDB_InMemory(t *testing.T) {
	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB(:memory:) failed: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestNewDB_FileCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB(%q) failed: %v", path, err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestNewDB_MissingParentDir(t *testing.T) {
	if _, err := NewDB("/no/such/dir/test.db"); err == nil {
		t.Error("expected error for missing parent directory")
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("first MigrateUp failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Fatalf("second MigrateUp failed (should be idempotent): %v", err)
	}

	version, err := MigrationVersion(db)
	if err != nil {
		t.Fatalf("MigrationVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("MigrationVersion = %d, want 1", version)
	}

	// session table exists and is writable
	if _, err := db.Exec(
		"INSERT INTO session (id, language, turns, turn_count, last_activity, created_at) VALUES (?, ?, ?, ?, datetime('now'), datetime('now'))",
		"s1", "en", "[]", 0,
	); err != nil {
		t.Errorf("insert into session failed: %v", err)
	}
}
