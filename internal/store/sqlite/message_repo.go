package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"portal_go/internal/domain"
)

const messageColumns = `id, sender_id, recipient_id, conversation_key, body, created_at, is_read, is_edited, deleted_for_everyone`

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (sender_id, recipient_id, conversation_key, body, created_at, is_read, is_edited, deleted_for_everyone)
		VALUES (?, ?, ?, ?, ?, 0, 0, 0)
	`, m.SenderID, m.RecipientID, m.ConversationKey, m.Body, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	m.IsRead, m.IsEdited, m.DeletedForEveryone = false, false, false
	m.DeletedFor = domain.NewViewerSet()
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT message_id, user_id FROM message_deletions WHERE message_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get message deletions: %w", err)
	}
	if err := attachDeletions(rows, map[int64]*domain.Message{m.ID: m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationKey string) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_key = ?
		ORDER BY id ASC
	`, conversationKey)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	byID := make(map[int64]*domain.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	drows, err := r.db.QueryContext(ctx, `
		SELECT d.message_id, d.user_id
		FROM message_deletions d
		JOIN messages m ON m.id = d.message_id
		WHERE m.conversation_key = ?
	`, conversationKey)
	if err != nil {
		return nil, fmt.Errorf("list message deletions: %w", err)
	}
	if err := attachDeletions(drows, byID); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *MessageRepo) Latest(ctx context.Context, conversationKey string) (*domain.Message, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM messages
		WHERE conversation_key = ?
		ORDER BY id DESC
		LIMIT 1
	`, conversationKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *MessageRepo) UpdateBody(ctx context.Context, id int64, body string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET body = ?, is_edited = 1
		WHERE id = ? AND deleted_for_everyone = 0
	`, body, id)
	if err != nil {
		return fmt.Errorf("update message body: %w", err)
	}
	return nil
}

func (r *MessageRepo) AddDeletion(ctx context.Context, id int64, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_deletions (message_id, user_id, deleted_at)
		VALUES (?, ?, ?)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, id, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert message deletion: %w", err)
	}
	return nil
}

func (r *MessageRepo) MarkDeletedForEveryone(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted_for_everyone = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message for everyone: %w", err)
	}
	return nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, conversationKey, recipientID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE conversation_key = ? AND recipient_id = ? AND is_read = 0
	`, conversationKey, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read rows: %w", err)
	}
	return n, nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, conversationKey, recipientID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		WHERE m.conversation_key = ? AND m.recipient_id = ? AND m.is_read = 0
		  AND NOT EXISTS (
			  SELECT 1 FROM message_deletions d
			  WHERE d.message_id = m.id AND d.user_id = ?
		  )
	`, conversationKey, recipientID, recipientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	m := &domain.Message{DeletedFor: domain.NewViewerSet()}
	if err := row.Scan(
		&m.ID, &m.SenderID, &m.RecipientID, &m.ConversationKey, &m.Body,
		&m.CreatedAt, &m.IsRead, &m.IsEdited, &m.DeletedForEveryone,
	); err != nil {
		return nil, err
	}
	return m, nil
}

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func attachDeletions(rows *sql.Rows, byID map[int64]*domain.Message) error {
	defer rows.Close()
	for rows.Next() {
		var (
			msgID  int64
			userID string
		)
		if err := rows.Scan(&msgID, &userID); err != nil {
			return fmt.Errorf("scan message deletion: %w", err)
		}
		if m, ok := byID[msgID]; ok {
			m.DeletedFor.Add(userID)
		}
	}
	return rows.Err()
}
