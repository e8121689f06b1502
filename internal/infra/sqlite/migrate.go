// Migration runner for the session store schema.
// Tracks applied migrations in schema_migrations (idempotent by design).
package sqlite

import (
	"database/sql"
	"fmt"
)

// migration is one versioned schema change. The session store is a single
// key-value-ish table, so migrations live inline rather than in embedded
// SQL files.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create_sessions",
		sql: `
			CREATE TABLE IF NOT EXISTS session (
				id            TEXT NOT NULL PRIMARY KEY,
				language      TEXT NOT NULL,
				turns         TEXT NOT NULL,
				turn_count    INTEGER NOT NULL DEFAULT 0,
				last_activity TEXT NOT NULL,
				created_at    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_session_last_activity
				ON session(last_activity);
		`,
	},
}

// MigrateUp applies all pending migrations in order, one transaction each.
// Already-applied migrations are skipped.
func MigrateUp(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("migrate: ensure migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := isMigrationApplied(db, m.version)
		if err != nil {
			return fmt.Errorf("migrate: check applied %d: %w", m.version, err)
		}
		if applied {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("migrate: apply %s: %w", m.name, err)
		}
	}
	return nil
}

// MigrationVersion returns the highest applied migration version, 0 if none.
func MigrationVersion(db *sql.DB) (int, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return 0, fmt.Errorf("migrate: ensure migrations table: %w", err)
	}

	var version int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("migrate: query version: %w", err)
	}
	return version, nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER NOT NULL PRIMARY KEY,
			name        TEXT    NOT NULL,
			applied_at  TEXT    NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}

func isMigrationApplied(db *sql.DB, version int) (bool, error) {
	var count int
	row := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		m.version, m.name,
	); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}
