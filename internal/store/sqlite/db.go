package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN (usually a file path).
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite has a single writer; a small pool keeps lock contention down.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pragmas := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA foreign_keys = ON;`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// Migrate creates the portal messaging schema. Statements are idempotent.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			full_name VARCHAR(120) NOT NULL,
			email VARCHAR(255) UNIQUE NOT NULL,
			role VARCHAR(20) NOT NULL DEFAULT 'standard',
			hashed_password VARCHAR(255) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			conversation_key TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT 0,
			is_edited BOOLEAN NOT NULL DEFAULT 0,
			deleted_for_everyone BOOLEAN NOT NULL DEFAULT 0,
			FOREIGN KEY (sender_id) REFERENCES users(id),
			FOREIGN KEY (recipient_id) REFERENCES users(id)
		);`,
		// Per-viewer soft deletes. The primary key makes the set idempotent.
		`CREATE TABLE IF NOT EXISTS message_deletions (
			message_id INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			deleted_at DATETIME NOT NULL,
			PRIMARY KEY (message_id, user_id),
			FOREIGN KEY (message_id) REFERENCES messages(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_id ON messages(conversation_key, id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient_unread ON messages(conversation_key, recipient_id, is_read);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
