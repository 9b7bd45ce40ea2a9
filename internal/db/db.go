// Package db is the sqlite persistence of appointments and clinic rules.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"eyeclinic/internal/events"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps the sqlite connection pool.
type DB struct {
	*sql.DB
	path   string
	bus    *events.EventBus
	logger *zerolog.Logger
}

// NewDB opens the database at path and applies migrations. Changes are
// published to bus when it is not nil.
func NewDB(path string, bus *events.EventBus, logger *zerolog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Immediate transactions take the write lock up front so two conditional
	// commits cannot both pass their revision check.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: conn, path: path, bus: bus, logger: logger}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS appointments (
			id TEXT PRIMARY KEY,
			date TEXT NOT NULL,
			start_minute INTEGER NOT NULL,
			service TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			patient_ref TEXT NOT NULL DEFAULT '',
			patient_name TEXT NOT NULL DEFAULT '',
			patient_phone TEXT NOT NULL DEFAULT '',
			patient_email TEXT NOT NULL DEFAULT '',
			patient_dob TEXT NOT NULL DEFAULT '',
			triage TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			source TEXT NOT NULL,
			reminder_handle TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_date ON appointments(date, start_minute)`,

		// Every committed schedule change bumps its day; conditional writes compare against it.
		`CREATE TABLE IF NOT EXISTS day_revisions (
			date TEXT PRIMARY KEY,
			revision INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS clinic_config (
			field TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS clinic_config_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(q), err)
		}
	}
	return nil
}

func firstLine(q string) string {
	for i, r := range q {
		if r == '\n' {
			return q[:i]
		}
	}
	return q
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) publish(e events.Event) {
	if db.bus == nil {
		return
	}
	db.bus.Publish(e)
}

func (db *DB) Close() error {
	return db.DB.Close()
}
