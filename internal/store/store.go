// Package store persists conversations, messages and quota usage in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"chatinbox/internal/domain"
)

// SQLiteStore implements domain.Store and the quota usage ledger on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.Store = (*SQLiteStore)(nil)

// Open opens (creating if needed) the database at dbPath and applies
// pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// SchemaVersion returns the applied schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	return CurrentVersion(ctx, s.db)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const conversationColumns = `id, tenant_id, contact_id, name, name_source, is_group, is_muted, bot_id,
	unread_count, last_message_preview, last_message_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var c domain.Conversation
	var source string
	var lastAt sql.NullTime
	if err := row.Scan(&c.ID, &c.TenantID, &c.ContactID, &c.Name, &source, &c.IsGroup, &c.IsMuted, &c.BotID,
		&c.UnreadCount, &c.LastMessagePreview, &lastAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.NameSource = domain.NameSource(source)
	if lastAt.Valid {
		c.LastMessageAt = lastAt.Time
	}
	return &c, nil
}

func (s *SQLiteStore) FindConversation(ctx context.Context, tenantID, contactID string) (*domain.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = ? AND contact_id = ?`,
		tenantID, contactID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// CreateConversation inserts a conversation for (tenantID, contactID). If
// one already exists, for example from a concurrent delivery, it is
// returned unchanged.
func (s *SQLiteStore) CreateConversation(ctx context.Context, tenantID, contactID, initialName string, source domain.NameSource, isGroup bool) (*domain.Conversation, error) {
	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, tenant_id, contact_id, name, name_source, is_group, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), tenantID, contactID, initialName, string(source), isGroup, now, now,
	); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	c, err := s.FindConversation(ctx, tenantID, contactID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("create conversation: row for %s vanished", contactID)
	}
	return c, nil
}

func (s *SQLiteStore) UpdateConversationName(ctx context.Context, conversationID, name string, source domain.NameSource) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET name = ?, name_source = ?, updated_at = ? WHERE id = ?`,
		name, string(source), s.now().UTC(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("update conversation name: %w", err)
	}
	return nil
}

// SetConversationBot assigns a bot to a conversation; "" unassigns.
func (s *SQLiteStore) SetConversationBot(ctx context.Context, conversationID, botID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET bot_id = ?, updated_at = ? WHERE id = ?`,
		botID, s.now().UTC(), conversationID,
	)
	return err
}

func (s *SQLiteStore) SetConversationMuted(ctx context.Context, conversationID string, muted bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET is_muted = ?, updated_at = ? WHERE id = ?`,
		muted, s.now().UTC(), conversationID,
	)
	return err
}

// ListConversations returns a tenant's conversations, most recent first.
func (s *SQLiteStore) ListConversations(ctx context.Context, tenantID string, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = ?
		 ORDER BY COALESCE(last_message_at, created_at) DESC LIMIT ?`, tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// StoreMessage persists msg and bumps the conversation's preview, last
// activity and unread counter. Outgoing messages reset the counter.
func (s *SQLiteStore) StoreMessage(ctx context.Context, conversationID, wireMessageID string, msg domain.NormalizedMessage) (*domain.PersistedMessage, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	pm := &domain.PersistedMessage{
		NormalizedMessage: msg,
		ID:                uuid.NewString(),
		ConversationID:    conversationID,
		WireMessageID:     wireMessageID,
		Status:            domain.StatusReceived,
		CreatedAt:         s.now().UTC(),
	}
	if msg.Direction == domain.DirectionOutgoing {
		pm.Status = domain.StatusSent
	}
	wireTS := msg.WireTimestamp
	if wireTS.IsZero() {
		wireTS = pm.CreatedAt
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, wire_message_id, kind, text_content, direction, status,
			is_edited, is_deleted, reply_to_id, payload, wire_timestamp, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pm.ID, conversationID, wireMessageID, string(msg.Kind), msg.Text, string(msg.Direction), string(pm.Status),
		msg.IsEdited, msg.IsDeleted, msg.ReplyToInternalID, string(payload), wireTS, pm.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	unread := "unread_count + 1"
	if msg.Direction == domain.DirectionOutgoing {
		unread = "0"
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_preview = ?, last_message_at = ?, unread_count = `+unread+`, updated_at = ?
		 WHERE id = ?`,
		msg.Preview(), wireTS, pm.CreatedAt, conversationID,
	); err != nil {
		s.logger.Warn("conversation summary update failed", "conversation", conversationID, "err", err)
	}
	return pm, nil
}

// UpdateMessage applies the non-nil fields of f.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, id string, f domain.MessageFields) error {
	var sets []string
	var args []any
	if f.Text != nil {
		sets = append(sets, "text_content = ?")
		args = append(args, *f.Text)
	}
	if f.IsEdited != nil {
		sets = append(sets, "is_edited = ?")
		args = append(args, *f.IsEdited)
	}
	if f.IsDeleted != nil {
		sets = append(sets, "is_deleted = ?")
		args = append(args, *f.IsDeleted)
	}
	if f.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*f.Status))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update message: %s not found", id)
	}
	return nil
}

const messageColumns = `id, conversation_id, wire_message_id, text_content, status, is_edited, is_deleted,
	reply_to_id, payload, created_at`

func scanMessage(row rowScanner) (*domain.PersistedMessage, error) {
	var m domain.PersistedMessage
	var status, payload string
	var text, replyTo string
	var edited, deleted bool
	if err := row.Scan(&m.ID, &m.ConversationID, &m.WireMessageID, &text, &status, &edited, &deleted,
		&replyTo, &payload, &m.CreatedAt); err != nil {
		return nil, err
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &m.NormalizedMessage); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", m.ID, err)
		}
	}
	// columns are authoritative over the payload snapshot
	m.Text = text
	m.IsEdited = edited
	m.IsDeleted = deleted
	m.ReplyToInternalID = replyTo
	m.Status = domain.MessageStatus(status)
	return &m, nil
}

// FindMessageByWireID returns the newest message with wireID in the
// conversation, or nil.
func (s *SQLiteStore) FindMessageByWireID(ctx context.Context, conversationID, wireID string) (*domain.PersistedMessage, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND wire_message_id = ?
		 ORDER BY created_at DESC LIMIT 1`, conversationID, wireID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return m, nil
}

// GetMessages returns the last limit messages of a conversation, oldest first.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.PersistedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC LIMIT ?`, conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.PersistedMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
