package service

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"portal_go/internal/domain"
	"portal_go/internal/security"
)

// MaxBodyRunes bounds the length of a message body.
const MaxBodyRunes = 5000

// MessageService owns the direct-message lifecycle: append, history with
// per-viewer visibility, read receipts, edits and both kinds of soft delete.
// It performs every authorisation check; callers only supply identities.
type MessageService struct {
	messages  domain.MessageRepository
	users     domain.UserRepository
	encryptor *security.Encryptor
	logger    *slog.Logger
}

func NewMessageService(
	messages domain.MessageRepository,
	users domain.UserRepository,
	encryptor *security.Encryptor,
	logger *slog.Logger,
) *MessageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageService{
		messages:  messages,
		users:     users,
		encryptor: encryptor,
		logger:    logger.With("component", "messages"),
	}
}

func normalizeBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", domain.Validation("message cannot be empty")
	}
	if utf8.RuneCountInString(body) > MaxBodyRunes {
		return "", domain.Validation("message exceeds 5000 characters")
	}
	return body, nil
}

// Append stores a new message from senderID to recipientID.
func (s *MessageService) Append(ctx context.Context, senderID, recipientID, body string) (*domain.Message, error) {
	body, err := normalizeBody(body)
	if err != nil {
		return nil, err
	}
	key, err := domain.ConversationKey(senderID, recipientID)
	if err != nil {
		return nil, err
	}

	recipient, err := s.users.GetByID(ctx, recipientID)
	if err != nil {
		return nil, domain.Internal("look up recipient", err)
	}
	if recipient == nil || !recipient.IsActive {
		return nil, domain.NotFound("recipient not found")
	}

	sealed, err := s.encryptor.Encrypt(body)
	if err != nil {
		return nil, domain.Internal("encrypt message", err)
	}
	msg := &domain.Message{
		SenderID:        senderID,
		RecipientID:     recipientID,
		ConversationKey: key,
		Body:            sealed,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, domain.Internal("store message", err)
	}
	msg.Body = body
	return msg, nil
}

// Get returns a message by id with its stored body decrypted and no
// visibility rule applied. The conversation key of a message never changes,
// so callers may use it to pick a serialisation lock before mutating.
func (s *MessageService) Get(ctx context.Context, messageID int64) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, domain.Internal("load message", err)
	}
	if msg == nil {
		return nil, domain.NotFound("message not found")
	}
	s.open(msg)
	return msg, nil
}

// History returns every message of the conversation in chronological order.
// Messages hidden from viewerID keep their place with the placeholder body.
func (s *MessageService) History(ctx context.Context, conversationKey, viewerID string) ([]*domain.Message, error) {
	if err := requireParticipant(conversationKey, viewerID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByConversation(ctx, conversationKey)
	if err != nil {
		return nil, domain.Internal("list messages", err)
	}
	for _, m := range msgs {
		s.open(m)
		applyVisibility(m, viewerID)
	}
	return msgs, nil
}

// MarkRead flags every unread message addressed to recipientID in the
// conversation and returns how many changed. Repeating the call returns 0.
func (s *MessageService) MarkRead(ctx context.Context, conversationKey, recipientID string) (int64, error) {
	if err := requireParticipant(conversationKey, recipientID); err != nil {
		return 0, err
	}
	n, err := s.messages.MarkRead(ctx, conversationKey, recipientID)
	if err != nil {
		return 0, domain.Internal("mark messages read", err)
	}
	return n, nil
}

// Edit replaces the body of a message. Only the sender may edit, and only
// while the message is not deleted for everyone.
func (s *MessageService) Edit(ctx context.Context, messageID int64, editorID, newBody string) (*domain.Message, error) {
	newBody, err := normalizeBody(newBody)
	if err != nil {
		return nil, err
	}
	msg, err := s.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editorID {
		return nil, domain.Forbidden("only the sender can edit this message")
	}
	if msg.DeletedForEveryone {
		return nil, domain.Conflict("message was deleted")
	}

	sealed, err := s.encryptor.Encrypt(newBody)
	if err != nil {
		return nil, domain.Internal("encrypt message", err)
	}
	if err := s.messages.UpdateBody(ctx, messageID, sealed); err != nil {
		return nil, domain.Internal("update message", err)
	}
	msg.Body = newBody
	msg.IsEdited = true
	return msg, nil
}

// SoftDeleteForViewer hides the message from viewerID only. Repeating the
// call is a silent no-op.
func (s *MessageService) SoftDeleteForViewer(ctx context.Context, messageID int64, viewerID string) (*domain.Message, error) {
	msg, err := s.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.IsParticipant(viewerID) {
		return nil, domain.Forbidden("not a participant of this conversation")
	}
	if msg.DeletedFor.Contains(viewerID) {
		return msg, nil
	}
	if err := s.messages.AddDeletion(ctx, messageID, viewerID); err != nil {
		return nil, domain.Internal("delete message for viewer", err)
	}
	msg.DeletedFor.Add(viewerID)
	return msg, nil
}

// SoftDeleteForEveryone hides the message from both participants. Only the
// sender may do this and it cannot be undone.
func (s *MessageService) SoftDeleteForEveryone(ctx context.Context, messageID int64, requesterID string) (*domain.Message, error) {
	msg, err := s.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, domain.Forbidden("only the sender can delete this message for everyone")
	}
	if msg.DeletedForEveryone {
		return msg, nil
	}
	if err := s.messages.MarkDeletedForEveryone(ctx, messageID); err != nil {
		return nil, domain.Internal("delete message for everyone", err)
	}
	msg.DeletedForEveryone = true
	return msg, nil
}

// UnreadCount counts unread messages addressed to recipientID, ignoring the
// ones the recipient deleted for themselves.
func (s *MessageService) UnreadCount(ctx context.Context, conversationKey, recipientID string) (int, error) {
	if err := requireParticipant(conversationKey, recipientID); err != nil {
		return 0, err
	}
	n, err := s.messages.CountUnread(ctx, conversationKey, recipientID)
	if err != nil {
		return 0, domain.Internal("count unread messages", err)
	}
	return n, nil
}

// LastVisibleMessage returns the newest message of the conversation as
// viewerID sees it, or nil for an empty conversation.
func (s *MessageService) LastVisibleMessage(ctx context.Context, conversationKey, viewerID string) (*domain.Message, error) {
	if err := requireParticipant(conversationKey, viewerID); err != nil {
		return nil, err
	}
	msg, err := s.messages.Latest(ctx, conversationKey)
	if err != nil {
		return nil, domain.Internal("load last message", err)
	}
	if msg == nil {
		return nil, nil
	}
	s.open(msg)
	applyVisibility(msg, viewerID)
	return msg, nil
}

// open decrypts the stored body in place. Rows that cannot be decrypted are
// returned as stored.
func (s *MessageService) open(m *domain.Message) {
	plain, err := s.encryptor.Decrypt(m.Body)
	if err != nil {
		s.logger.Warn("message body could not be decrypted", "message_id", m.ID, "error", err)
		return
	}
	m.Body = plain
}

func applyVisibility(m *domain.Message, viewerID string) {
	if m.HiddenFor(viewerID) {
		m.Body = domain.DeletedPlaceholder
	}
}

func requireParticipant(conversationKey, userID string) error {
	a, b, err := domain.Participants(conversationKey)
	if err != nil {
		return err
	}
	if userID != a && userID != b {
		return domain.Forbidden("not a participant of this conversation")
	}
	return nil
}
