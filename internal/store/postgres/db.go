package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the portal messaging schema.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id               TEXT         PRIMARY KEY,
			full_name        VARCHAR(120) NOT NULL,
			email            VARCHAR(255) UNIQUE NOT NULL,
			role             VARCHAR(20)  NOT NULL DEFAULT 'standard',
			hashed_password  VARCHAR(255) NOT NULL,
			is_active        BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id                   BIGSERIAL   PRIMARY KEY,
			sender_id            TEXT        NOT NULL REFERENCES users(id),
			recipient_id         TEXT        NOT NULL REFERENCES users(id),
			conversation_key     TEXT        NOT NULL,
			body                 TEXT        NOT NULL,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_read              BOOLEAN     NOT NULL DEFAULT FALSE,
			is_edited            BOOLEAN     NOT NULL DEFAULT FALSE,
			deleted_for_everyone BOOLEAN     NOT NULL DEFAULT FALSE
		)`,

		// Per-viewer soft deletes ("delete for me")
		`CREATE TABLE IF NOT EXISTS message_deletions (
			message_id BIGINT      NOT NULL REFERENCES messages(id),
			user_id    TEXT        NOT NULL REFERENCES users(id),
			deleted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (message_id, user_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_id ON messages(conversation_key, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient_unread ON messages(conversation_key, recipient_id) WHERE is_read = FALSE`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
