package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"portal_go/internal/domain"
)

const messageColumns = `m.id, m.sender_id, m.recipient_id, m.conversation_key, m.body, m.created_at,
	m.is_read, m.is_edited, m.deleted_for_everyone,
	ARRAY(SELECT d.user_id FROM message_deletions d WHERE d.message_id = m.id ORDER BY d.user_id)`

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (sender_id, recipient_id, conversation_key, body, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		RETURNING id, created_at
	`, m.SenderID, m.RecipientID, m.ConversationKey, m.Body, nullTime(m),
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	m.IsRead, m.IsEdited, m.DeletedForEveryone = false, false, false
	m.DeletedFor = domain.NewViewerSet()
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationKey string) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.conversation_key = $1
		ORDER BY m.id ASC
	`, conversationKey)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
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

func (r *MessageRepo) Latest(ctx context.Context, conversationKey string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.conversation_key = $1
		ORDER BY m.id DESC
		LIMIT 1
	`, conversationKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) UpdateBody(ctx context.Context, id int64, body string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET body = $1, is_edited = TRUE
		WHERE id = $2 AND deleted_for_everyone = FALSE
	`, body, id)
	if err != nil {
		return fmt.Errorf("update message body: %w", err)
	}
	return nil
}

func (r *MessageRepo) AddDeletion(ctx context.Context, id int64, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_deletions (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, id, userID)
	if err != nil {
		return fmt.Errorf("insert message deletion: %w", err)
	}
	return nil
}

func (r *MessageRepo) MarkDeletedForEveryone(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted_for_everyone = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete message for everyone: %w", err)
	}
	return nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, conversationKey, recipientID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_key = $1 AND recipient_id = $2 AND is_read = FALSE
	`, conversationKey, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

func (r *MessageRepo) CountUnread(ctx context.Context, conversationKey, recipientID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		WHERE m.conversation_key = $1 AND m.recipient_id = $2 AND m.is_read = FALSE
		  AND NOT EXISTS (
			  SELECT 1 FROM message_deletions d
			  WHERE d.message_id = m.id AND d.user_id = $2
		  )
	`, conversationKey, recipientID).Scan(&n)
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
	m := &domain.Message{}
	var deletedFor []string
	// pgx/stdlib hands arrays to database/sql in text form; a Map is not
	// safe for concurrent use, so each scan gets its own.
	typeMap := pgtype.NewMap()
	if err := row.Scan(
		&m.ID, &m.SenderID, &m.RecipientID, &m.ConversationKey, &m.Body, &m.CreatedAt,
		&m.IsRead, &m.IsEdited, &m.DeletedForEveryone, typeMap.SQLScanner(&deletedFor),
	); err != nil {
		return nil, err
	}
	m.DeletedFor = domain.NewViewerSet(deletedFor...)
	return m, nil
}

func nullTime(m *domain.Message) sql.NullTime {
	return sql.NullTime{Time: m.CreatedAt, Valid: !m.CreatedAt.IsZero()}
}
