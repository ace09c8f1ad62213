// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// modernc.org/sqlite is a pure Go translation of SQLite: no CGo and no C
// compiler, so cross-compilation keeps working.
//
// UNIQUENESS IS ENFORCED HERE:
// The users table carries UNIQUE constraints on email, tiktok_open_id and
// username. Services may pre-check, but the constraint is what actually
// guarantees one TikTok account maps to one local user; write paths translate
// the constraint violation into a domain error (see isUniqueViolation).
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// TokenCipher seals OAuth tokens before they are written and opens them on
// read. auth.TokenCipher is the production implementation.
type TokenCipher interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Option configures a DB at construction time.
type Option func(*DB)

// WithTokenCipher stores TikTok tokens sealed with c instead of in plaintext.
func WithTokenCipher(c TokenCipher) Option {
	return func(db *DB) { db.cipher = c }
}

// DB wraps a sql.DB connection pool and implements every repository interface.
type DB struct {
	conn   *sql.DB
	cipher TokenCipher
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/mochi.db" → file-based database (persistent)
//   - ":memory:"      → in-memory database (tests)
func New(dbPath string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// SQLite has a single writer. One pooled connection serialises writes
	// instead of surfacing SQLITE_BUSY, and keeps ":memory:" databases from
	// being silently split across connections.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. Account deletion relies on
	// ON DELETE CASCADE, so they must be on.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping is used by the health endpoint.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                     TEXT PRIMARY KEY,
			email                  TEXT NOT NULL UNIQUE,
			name                   TEXT NOT NULL DEFAULT '',
			image_url              TEXT NOT NULL DEFAULT '',
			username               TEXT UNIQUE,

			tiktok_open_id         TEXT UNIQUE,
			tiktok_access_token    TEXT,
			tiktok_refresh_token   TEXT,
			tiktok_expires_in      INTEGER,
			tiktok_token_issued_at DATETIME,

			display_name           TEXT NOT NULL DEFAULT '',
			avatar_url             TEXT NOT NULL DEFAULT '',
			bio_description        TEXT NOT NULL DEFAULT '',
			follower_count         INTEGER NOT NULL DEFAULT 0,
			following_count        INTEGER NOT NULL DEFAULT 0,
			likes_count            INTEGER NOT NULL DEFAULT 0,
			video_count            INTEGER NOT NULL DEFAULT 0,
			is_verified            INTEGER NOT NULL DEFAULT 0,

			automation_enabled     INTEGER NOT NULL DEFAULT 0,
			automation_schedule    TEXT NOT NULL DEFAULT '["09:00","14:00","19:00"]',
			automation_config      TEXT NOT NULL DEFAULT '{"auto_reply":true,"cross_post":false,"smart_hashtags":true}',
			notification_settings  TEXT NOT NULL DEFAULT '{"push":true,"email":false}',

			created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS activity_logs (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			type        TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			metadata    TEXT,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_activity_logs_user_created
			ON activity_logs(user_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating activity_logs table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS devices (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			user_agent  TEXT NOT NULL,
			ip_address  TEXT NOT NULL DEFAULT '',
			last_active DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, user_agent)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating devices table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
//
// modernc.org/sqlite reports extended result codes, so the usual value is
// SQLITE_CONSTRAINT_UNIQUE. The primary-code check covers builds where
// extended codes are off.
func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE")
}

// violatedColumn extracts "table.column" from a UNIQUE failure message such as
// "UNIQUE constraint failed: users.tiktok_open_id".
func violatedColumn(err error) string {
	msg := err.Error()
	const marker = "UNIQUE constraint failed: "
	i := strings.Index(msg, marker)
	if i < 0 {
		return ""
	}
	col := msg[i+len(marker):]
	if j := strings.IndexAny(col, " ,)"); j >= 0 {
		col = col[:j]
	}
	return col
}

func (db *DB) seal(s string) (string, error) {
	if db.cipher == nil || s == "" {
		return s, nil
	}
	return db.cipher.Seal(s)
}

func (db *DB) open(s string) (string, error) {
	if db.cipher == nil || s == "" {
		return s, nil
	}
	return db.cipher.Open(s)
}
