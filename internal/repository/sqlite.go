package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from splitting across connections in tests.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			category TEXT NOT NULL,
			occurred_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS devices (
			device_id TEXT PRIMARY KEY,
			last_seen DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS subscribers (
			handle TEXT PRIMARY KEY,
			chat_id INTEGER NOT NULL,
			linked_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS alert_log (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			subscriber_count INTEGER NOT NULL,
			sent_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events(occurred_at);
		CREATE INDEX IF NOT EXISTS idx_alert_log_sent_at ON alert_log(sent_at);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
