package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migrations holds the triage schema. Statements are idempotent so the
// migration can run on every startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id            BIGSERIAL PRIMARY KEY,
		external_id   TEXT NOT NULL UNIQUE,
		account       TEXT NOT NULL,
		folder        TEXT NOT NULL DEFAULT 'INBOX',
		from_addr     TEXT NOT NULL,
		from_name     TEXT,
		to_addr       TEXT NOT NULL,
		subject       TEXT NOT NULL DEFAULT '',
		body_text     TEXT NOT NULL DEFAULT '',
		body_html     TEXT,
		received_at   TIMESTAMPTZ NOT NULL,
		metadata      JSONB NOT NULL DEFAULT '{}',
		status        TEXT NOT NULL DEFAULT 'new',
		error_message TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_status ON messages (status, received_at)`,
	// Unique so that two concurrent inserts of the same content cannot both
	// commit; the loser surfaces SQLSTATE 23505 and is treated as a duplicate.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_text_hash ON messages ((metadata->>'text_hash'))`,

	`CREATE TABLE IF NOT EXISTS extracted_fields (
		id         BIGSERIAL PRIMARY KEY,
		message_id BIGINT NOT NULL REFERENCES messages(id),
		field_type TEXT NOT NULL,
		data       JSONB NOT NULL DEFAULT '{}',
		confidence REAL NOT NULL DEFAULT 0,
		validated  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (message_id, field_type)
	)`,

	`CREATE TABLE IF NOT EXISTS drafts (
		id            BIGSERIAL PRIMARY KEY,
		message_id    BIGINT REFERENCES messages(id),
		reply_to      TEXT NOT NULL,
		to_addr       TEXT NOT NULL,
		subject       TEXT NOT NULL,
		body_text     TEXT NOT NULL,
		body_html     TEXT,
		template      TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'draft',
		scheduled_for TIMESTAMPTZ,
		sent_at       TIMESTAMPTZ,
		error_message TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_drafts_message ON drafts (message_id)`,

	`CREATE TABLE IF NOT EXISTS events (
		id         BIGSERIAL PRIMARY KEY,
		type       TEXT NOT NULL,
		source     TEXT NOT NULL,
		data       JSONB NOT NULL DEFAULT '{}',
		processed  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events (type, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_events_unprocessed ON events (type, created_at) WHERE processed = FALSE`,

	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS calendar_slots (
		id             BIGSERIAL PRIMARY KEY,
		calendar_id    TEXT NOT NULL,
		start_time     TIMESTAMPTZ NOT NULL,
		end_time       TIMESTAMPTZ NOT NULL,
		is_available   BOOLEAN NOT NULL DEFAULT TRUE,
		reserved_until TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (calendar_id, start_time, end_time)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_calendar_slots_expiry ON calendar_slots (reserved_until) WHERE reserved_until IS NOT NULL`,
}

// Migrate creates the triage schema.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
