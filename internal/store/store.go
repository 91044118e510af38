// Package store implements the durable record store for user profiles and
// messages on top of SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// timeLayout is fixed-width so that lexicographic ordering of stored
// timestamps matches chronological ordering. All timestamps are UTC.
const timeLayout = "2006-01-02 15:04:05.000000000"

// Store wraps the SQLite database handle and exposes typed record operations.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			full_name TEXT NOT NULL,
			password_hash TEXT,
			provider TEXT NOT NULL DEFAULT 'local',
			external_uid TEXT,
			profile_pic TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'user',
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_external_uid
			ON users(external_uid) WHERE external_uid IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			attachment_url TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'sent',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}
