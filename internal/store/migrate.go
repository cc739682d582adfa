package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// statements splits SQL on semicolons, dropping blanks.
func (m migration) statements() []string {
	var out []string
	for _, stmt := range strings.Split(m.SQL, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// migrations are applied in order, each exactly once, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: conversations, messages",
		SQL: `
		CREATE TABLE IF NOT EXISTS conversations (
			id                   TEXT PRIMARY KEY,
			tenant_id            TEXT NOT NULL,
			contact_id           TEXT NOT NULL,
			name                 TEXT DEFAULT '',
			name_source          TEXT DEFAULT '',
			is_group             INTEGER DEFAULT 0,
			unread_count         INTEGER DEFAULT 0,
			last_message_preview TEXT DEFAULT '',
			last_message_at      DATETIME,
			created_at           DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at           DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(tenant_id, contact_id)
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_tenant ON conversations(tenant_id, last_message_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			wire_message_id TEXT NOT NULL,
			kind            TEXT NOT NULL,
			text_content    TEXT DEFAULT '',
			direction       TEXT NOT NULL,
			status          TEXT DEFAULT '',
			is_edited       INTEGER DEFAULT 0,
			is_deleted      INTEGER DEFAULT 0,
			reply_to_id     TEXT DEFAULT '',
			payload         TEXT,
			wire_timestamp  DATETIME,
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_wire ON messages(conversation_id, wire_message_id);
		`,
	},
	{
		Version:     2,
		Description: "v2: quota_usage counters",
		SQL: `
		CREATE TABLE IF NOT EXISTS quota_usage (
			tenant_id   TEXT NOT NULL,
			quota_type  TEXT NOT NULL,
			period      TEXT NOT NULL,
			used        INTEGER DEFAULT 0,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, quota_type, period)
		);
		`,
	},
	{
		Version:     3,
		Description: "v3: conversation bot assignment and mute flag",
		SQL: `
		ALTER TABLE conversations ADD COLUMN bot_id TEXT DEFAULT '';
		ALTER TABLE conversations ADD COLUMN is_muted INTEGER DEFAULT 0;
		`,
	},
}

// latestVersion is the version a fully migrated database reports.
func latestVersion() int {
	return migrations[len(migrations)-1].Version
}

const versionTable = `CREATE TABLE IF NOT EXISTS schema_version (
	version     INTEGER PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// Migrate brings db up to latestVersion. Each migration runs in its own
// transaction together with its schema_version row.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, versionTable); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	applied, err := CurrentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= applied {
			continue
		}
		if err := apply(ctx, db, m, logger); err != nil {
			return err
		}
		logger.Info("schema migrated", "version", m.Version, "description", m.Description)
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration, logger *slog.Logger) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", m.Version, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, stmt := range m.statements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if alreadyApplied(err) {
				logger.Warn("schema change already present", "version", m.Version, "stmt", clip(stmt, 60))
				continue
			}
			return fmt.Errorf("migration %d: %w (in %q)", m.Version, err, clip(stmt, 200))
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, description) VALUES (?, ?)`, m.Version, m.Description); err != nil {
		return fmt.Errorf("migration %d: record version: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d: commit: %w", m.Version, err)
	}
	return nil
}

// alreadyApplied matches failures from databases patched by hand, where a
// column or index exists before its migration ran.
func alreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// CurrentVersion reports the highest applied migration, 0 when the database
// has never been migrated.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil && strings.Contains(err.Error(), "no such table") {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
