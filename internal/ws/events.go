package ws

import (
	"encoding/json"

	"portal_go/internal/domain"
	"portal_go/internal/service"
)

// Inbound event types.
const (
	EventAuthenticate          = "authenticate"
	EventJoinRoom              = "join_room"
	EventSendMessage           = "send_message"
	EventEditMessage           = "edit_message"
	EventDeleteMessageMe       = "delete_message_me"
	EventDeleteMessageEveryone = "delete_message_everyone"
	EventMarkRead              = "mark_read"
)

// Outbound event types.
const (
	EventRoomJoined             = "room_joined"
	EventReceiveMessage         = "receive_message"
	EventMessageEdited          = "message_edited"
	EventMessageDeletedMe       = "message_deleted_me"
	EventMessageDeletedEveryone = "message_deleted_everyone"
	EventMessagesRead           = "messages_read"
	EventError                  = "error"
)

// inboundEvent is the union of every client frame. Unused fields stay zero.
type inboundEvent struct {
	Type        string `json:"type"`
	Token       string `json:"token,omitempty"`
	OtherUserID string `json:"otherUserId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	Message     string `json:"message,omitempty"`
	MessageID   int64  `json:"messageId,omitempty"`
	NewMessage  string `json:"newMessage,omitempty"`
	SenderID    string `json:"senderId,omitempty"`
}

type roomJoinedEvent struct {
	Type        string `json:"type"`
	Room        string `json:"room"`
	OtherUserID string `json:"otherUserId"`
}

type messageEvent struct {
	Type string `json:"type"`
	service.MessageView
}

type messageEditedEvent struct {
	Type     string `json:"type"`
	ID       int64  `json:"_id"`
	Room     string `json:"room"`
	Message  string `json:"message"`
	IsEdited bool   `json:"isEdited"`
}

type messageDeletedEvent struct {
	Type      string `json:"type"`
	ID        int64  `json:"_id"`
	MessageID int64  `json:"messageId"`
	Room      string `json:"room"`
}

// ReadNotice tells a conversation that readerID has read what was sent to
// them.
type ReadNotice struct {
	Type     string `json:"type"`
	ReaderID string `json:"readerId"`
	Room     string `json:"room"`
}

type errorEvent struct {
	Type    string      `json:"type"`
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
	Event   string      `json:"event,omitempty"`
}

func newErrorEvent(event string, err error) errorEvent {
	return errorEvent{
		Type:    EventError,
		Code:    domain.CodeOf(err),
		Message: domain.PublicMessage(err),
		Event:   event,
	}
}

// NotifyRead pushes a read receipt to every live member of the conversation.
func (h *Hub) NotifyRead(conversationKey, readerID string) {
	h.Broadcast(conversationKey, ReadNotice{Type: EventMessagesRead, ReaderID: readerID, Room: conversationKey})
}

func marshalEvent(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
