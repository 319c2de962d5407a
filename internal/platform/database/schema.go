package database

import "database/sql"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS license_keys (
		key_id TEXT PRIMARY KEY,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		bound_device TEXT,
		uses INTEGER NOT NULL DEFAULT 0,
		max_uses INTEGER,
		note TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS scripts (
		name TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		skip_obfuscation INTEGER NOT NULL DEFAULT 0,
		executions INTEGER NOT NULL DEFAULT 0,
		last_executed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`,
}

var dropSchema = []string{
	`DROP TABLE IF EXISTS audit_log`,
	`DROP TABLE IF EXISTS scripts`,
	`DROP TABLE IF EXISTS license_keys`,
}

// Migrate creates the tables the store needs. Safe to run on every start.
func Migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Rollback drops all managed tables. Used by cmd/migrate -direction=down.
func Rollback(db *sql.DB) error {
	for _, stmt := range dropSchema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
