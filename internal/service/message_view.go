package service

import (
	"context"
	"time"

	"portal_go/internal/domain"
)

// Party is the compact participant reference embedded in a MessageView.
type Party struct {
	ID       string `json:"_id"`
	FullName string `json:"fullName"`
}

// MessageView is the wire shape of a message for one viewer. The hub and the
// history endpoint both render through View so the two paths agree.
type MessageView struct {
	ID                 int64     `json:"_id"`
	Sender             Party     `json:"sender"`
	Recipient          Party     `json:"recipient"`
	Message            string    `json:"message"`
	Room               string    `json:"room"`
	CreatedAt          time.Time `json:"createdAt"`
	IsRead             bool      `json:"isRead"`
	IsEdited           bool      `json:"isEdited"`
	DeletedForEveryone bool      `json:"deletedForEveryone"`
	IsDeletedForMe     bool      `json:"isDeletedForMe"`
}

// LastMessage is the inbox snapshot of the newest message in a conversation.
type LastMessage struct {
	Content            string    `json:"content"`
	CreatedAt          time.Time `json:"createdAt"`
	Sender             string    `json:"sender"`
	IsEdited           bool      `json:"isEdited"`
	DeletedForEveryone bool      `json:"deletedForEveryone"`
	IsDeletedForMe     bool      `json:"isDeletedForMe"`
}

// ContactSummary is one row of the chat inbox.
type ContactSummary struct {
	ID          string       `json:"_id"`
	FullName    string       `json:"fullName"`
	Email       string       `json:"email"`
	Role        string       `json:"role"`
	UnreadCount int          `json:"unreadCount"`
	LastMessage *LastMessage `json:"lastMessage"`
}

// View projects msg for viewerID, resolving participant names through the
// user directory.
func (s *MessageService) View(ctx context.Context, msg *domain.Message, viewerID string) (MessageView, error) {
	views, err := s.Views(ctx, []*domain.Message{msg}, viewerID)
	if err != nil {
		return MessageView{}, err
	}
	return views[0], nil
}

// Views projects a batch of messages, looking each participant up once.
func (s *MessageService) Views(ctx context.Context, msgs []*domain.Message, viewerID string) ([]MessageView, error) {
	names := make(map[string]string, 2)
	name := func(id string) (string, error) {
		if n, ok := names[id]; ok {
			return n, nil
		}
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return "", domain.Internal("look up participant", err)
		}
		n := ""
		if u != nil {
			n = u.FullName
		}
		names[id] = n
		return n, nil
	}

	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		senderName, err := name(m.SenderID)
		if err != nil {
			return nil, err
		}
		recipientName, err := name(m.RecipientID)
		if err != nil {
			return nil, err
		}
		body := m.Body
		if m.HiddenFor(viewerID) {
			body = domain.DeletedPlaceholder
		}
		out = append(out, MessageView{
			ID:                 m.ID,
			Sender:             Party{ID: m.SenderID, FullName: senderName},
			Recipient:          Party{ID: m.RecipientID, FullName: recipientName},
			Message:            body,
			Room:               m.ConversationKey,
			CreatedAt:          m.CreatedAt,
			IsRead:             m.IsRead,
			IsEdited:           m.IsEdited,
			DeletedForEveryone: m.DeletedForEveryone,
			IsDeletedForMe:     m.DeletedFor.Contains(viewerID),
		})
	}
	return out, nil
}

// Inbox lists the counterparts viewer may chat with, each with its unread
// count and last visible message. Admins see every other user; everyone else
// sees the admins.
func (s *MessageService) Inbox(ctx context.Context, viewer *domain.User) ([]ContactSummary, error) {
	var (
		contacts []*domain.User
		err      error
	)
	if viewer.IsAdmin() {
		contacts, err = s.users.ListExcept(ctx, viewer.ID)
	} else {
		contacts, err = s.users.ListByRole(ctx, domain.RoleAdmin)
	}
	if err != nil {
		return nil, domain.Internal("list contacts", err)
	}

	out := make([]ContactSummary, 0, len(contacts))
	for _, c := range contacts {
		if c.ID == viewer.ID {
			continue
		}
		key, err := domain.ConversationKey(viewer.ID, c.ID)
		if err != nil {
			return nil, err
		}
		unread, err := s.UnreadCount(ctx, key, viewer.ID)
		if err != nil {
			return nil, err
		}
		last, err := s.LastVisibleMessage(ctx, key, viewer.ID)
		if err != nil {
			return nil, err
		}

		row := ContactSummary{
			ID:          c.ID,
			FullName:    c.FullName,
			Email:       c.Email,
			Role:        c.Role,
			UnreadCount: unread,
		}
		if last != nil {
			row.LastMessage = &LastMessage{
				Content:            last.Body,
				CreatedAt:          last.CreatedAt,
				Sender:             last.SenderID,
				IsEdited:           last.IsEdited,
				DeletedForEveryone: last.DeletedForEveryone,
				IsDeletedForMe:     last.DeletedFor.Contains(viewer.ID),
			}
		}
		out = append(out, row)
	}
	return out, nil
}
