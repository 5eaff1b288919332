package history

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest schema version supported by the migrator.
const SchemaVersion = 1

// Migrate ensures the SQLite schema exists and is upgraded to SchemaVersion.
func Migrate(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	transaction, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() {
		_ = transaction.Rollback()
	}()

	_, err = transaction.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plant_id TEXT NOT NULL,
			moisture REAL NOT NULL,
			temperature REAL NOT NULL,
			light REAL NOT NULL,
			water_detected INTEGER NOT NULL,
			captured_at TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create readings table: %w", err)
	}

	_, err = transaction.Exec(`
		CREATE TABLE IF NOT EXISTS commands (
			id TEXT PRIMARY KEY,
			plant_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			action TEXT NOT NULL,
			origin TEXT NOT NULL,
			issued_at TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT NULL,
			ack_id TEXT NULL,
			ack_status TEXT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create commands table: %w", err)
	}

	_, err = transaction.Exec(`CREATE INDEX IF NOT EXISTS idx_readings_plant_captured ON readings(plant_id, captured_at);`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_readings_plant_captured: %w", err)
	}

	_, err = transaction.Exec(`CREATE INDEX IF NOT EXISTS idx_commands_plant_completed ON commands(plant_id, completed_at);`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_commands_plant_completed: %w", err)
	}

	_, err = transaction.Exec(`INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("migrate: record schema version: %w", err)
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("migrate: commit transaction: %w", err)
	}
	return nil
}
