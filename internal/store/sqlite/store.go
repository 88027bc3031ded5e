// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package sqlite implements the durable session store on SQLite.
package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/tether-dev/tether/internal/store"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// Compile-time interface check.
var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore backed by SQLite.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore opens (or creates) a SQLite database at dbPath and
// initialises the sessions and messages tables.
func NewSessionStore(dbPath string) (*SessionStore, error) {
	// _txlock=immediate makes the append transaction take its write
	// lock up front, so concurrent writers queue on the busy timeout
	// instead of deadlocking on a shared-to-exclusive upgrade.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, tetherr.Wrapf(err, tetherr.CodeStoreTransient, "migrating sqlite db")
	}

	return &SessionStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	tenant           TEXT NOT NULL,
	version          INTEGER NOT NULL DEFAULT 0,
	remote_handle    TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'active',
	created_at       TEXT NOT NULL,
	last_activity_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON sessions(tenant);

CREATE TABLE IF NOT EXISTS messages (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	role             TEXT NOT NULL,
	content          TEXT NOT NULL DEFAULT '',
	tool_invocations TEXT NOT NULL DEFAULT '[]',
	idempotency_key  TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
	UNIQUE (session_id, idempotency_key)
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure (duplicate primary key or duplicate idempotency key).
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// formatTime serialises a time.Time to RFC3339 with nanosecond precision.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
