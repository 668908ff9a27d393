package db

import (
	"fmt"
)

// Migrate runs all database migrations
func (db *DB) Migrate() error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001},
		{2, migration002},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

const migration001 = `
-- Scan sessions (history; found files themselves are not stored)
CREATE TABLE scan_runs (
    id INTEGER PRIMARY KEY,
    session_id TEXT UNIQUE NOT NULL,
    scheduled_job_id INTEGER,
    root_path TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    use_custom BOOLEAN DEFAULT 0,
    extensions TEXT,
    include_hidden_files BOOLEAN DEFAULT 0,
    include_hidden_dirs BOOLEAN DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'running',
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    files_found INTEGER DEFAULT 0,
    bytes_found INTEGER DEFAULT 0,
    dirs_scanned INTEGER DEFAULT 0,
    entries_skipped INTEGER DEFAULT 0,
    error_message TEXT
);

CREATE INDEX idx_scan_runs_status ON scan_runs(status);
CREATE INDEX idx_scan_runs_started_at ON scan_runs(started_at);

-- Recovery passes (audit log)
CREATE TABLE recoveries (
    id INTEGER PRIMARY KEY,
    scan_run_id INTEGER REFERENCES scan_runs(id) ON DELETE SET NULL,
    destination TEXT NOT NULL,
    attempted INTEGER DEFAULT 0,
    succeeded INTEGER DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'running',
    started_at DATETIME NOT NULL,
    completed_at DATETIME
);

CREATE INDEX idx_recoveries_started_at ON recoveries(started_at);

CREATE TABLE recovery_failures (
    id INTEGER PRIMARY KEY,
    recovery_id INTEGER NOT NULL REFERENCES recoveries(id) ON DELETE CASCADE,
    path TEXT NOT NULL,
    reason TEXT NOT NULL
);

CREATE INDEX idx_recovery_failures_recovery_id ON recovery_failures(recovery_id);

-- App settings (key-value store)
CREATE TABLE settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

INSERT INTO settings (key, value) VALUES ('retention_days', '30');
`

const migration002 = `
-- Saved scans run on a cron schedule
CREATE TABLE scheduled_jobs (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    root_path TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    use_custom BOOLEAN DEFAULT 0,
    custom_extensions TEXT NOT NULL DEFAULT '[]',
    include_hidden_files BOOLEAN DEFAULT 0,
    include_hidden_dirs BOOLEAN DEFAULT 0,
    recover_to TEXT NOT NULL DEFAULT '',
    cron_expression TEXT NOT NULL,
    enabled BOOLEAN DEFAULT 1,
    last_run_at DATETIME,
    next_run_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
