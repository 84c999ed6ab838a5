package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

// InitDB opens/creates the SQLite time-series store and ensures the
// schema exists.
func InitDB(path string) (*sql.DB, error) {
	conn, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// SQLite tolerates one writer; keep the pool at a single connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return conn, nil
}

const schemaLatest = `
CREATE TABLE IF NOT EXISTS ups_latest (
    name TEXT PRIMARY KEY,
    captured_at TIMESTAMP NOT NULL,
    snapshot TEXT NOT NULL
);
`

const schemaHistory = `
CREATE TABLE IF NOT EXISTS ups_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    captured_at TIMESTAMP NOT NULL,
    snapshot TEXT NOT NULL
);
`

const schemaHistoryIdx = `
CREATE INDEX IF NOT EXISTS idx_ups_history_name_ts ON ups_history(name, captured_at);
`

const schemaMinuteWatts = `
CREATE TABLE IF NOT EXISTS ups_minute_watts (
    name TEXT NOT NULL,
    minute TEXT NOT NULL,
    avg_watts REAL NOT NULL,
    samples INTEGER NOT NULL,
    bucket_ts TIMESTAMP NOT NULL,
    PRIMARY KEY (name, minute)
);
`

const schemaEnergyDaily = `
CREATE TABLE IF NOT EXISTS ups_energy_daily (
    name TEXT NOT NULL,
    day TEXT NOT NULL,
    watt_seconds REAL NOT NULL,
    PRIMARY KEY (name, day)
);
`

const schemaAlertEvents = `
CREATE TABLE IF NOT EXISTS ups_alert_events (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    condition TEXT NOT NULL,
    message TEXT NOT NULL,
    value REAL NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);
`

const schemaTransitions = `
CREATE TABLE IF NOT EXISTS ups_transitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    detail TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);
`

const schemaVoltageDev = `
CREATE TABLE IF NOT EXISTS ups_voltage_dev (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    deviation_pct REAL NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);
`

func ensureSchema(conn *sql.DB) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaLatest,
		schemaHistory,
		schemaHistoryIdx,
		schemaMinuteWatts,
		schemaEnergyDaily,
		schemaAlertEvents,
		schemaTransitions,
		schemaVoltageDev,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
