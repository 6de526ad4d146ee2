package domain

import (
	"context"
)

// UserRepository defines persistence operations for users. Lookups return
// (nil, nil) when no row matches.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListExcept(ctx context.Context, excludeID string) ([]*User, error)
	ListByRole(ctx context.Context, role string) ([]*User, error)
}

// MessageRepository defines persistence operations for direct messages.
// Every mutation touches a single message or a single conversation key.
type MessageRepository interface {
	// Create inserts m and fills in its ID and CreatedAt.
	Create(ctx context.Context, m *Message) error
	// GetByID returns (nil, nil) when the message does not exist.
	GetByID(ctx context.Context, id int64) (*Message, error)
	// ListByConversation returns every message of the conversation in commit
	// order (ascending id). CreatedAt is for display only.
	ListByConversation(ctx context.Context, conversationKey string) ([]*Message, error)
	// Latest returns the last committed message of the conversation or (nil, nil).
	Latest(ctx context.Context, conversationKey string) (*Message, error)
	UpdateBody(ctx context.Context, id int64, body string) error
	AddDeletion(ctx context.Context, id int64, userID string) error
	MarkDeletedForEveryone(ctx context.Context, id int64) error
	// MarkRead flags every unread message addressed to recipientID and
	// returns how many rows changed.
	MarkRead(ctx context.Context, conversationKey, recipientID string) (int64, error)
	// CountUnread counts unread messages addressed to recipientID that the
	// recipient has not deleted for themselves.
	CountUnread(ctx context.Context, conversationKey, recipientID string) (int, error)
}
