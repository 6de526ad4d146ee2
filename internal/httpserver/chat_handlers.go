package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"portal_go/internal/domain"
	"portal_go/internal/service"
)

// LiveConversations is the part of the realtime hub the REST path needs:
// the per-conversation lock and the read receipt broadcast.
type LiveConversations interface {
	Lock(conversationKey string) (unlock func())
	NotifyRead(conversationKey, readerID string)
}

// markReadAndNotify marks under the conversation lock so the receipt is
// ordered with live mutations of the same conversation.
func markReadAndNotify(r *http.Request, msgSvc *service.MessageService, live LiveConversations, key, readerID string) (int64, error) {
	unlock := live.Lock(key)
	defer unlock()

	marked, err := msgSvc.MarkRead(r.Context(), key, readerID)
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		live.NotifyRead(key, readerID)
	}
	return marked, nil
}

type historyResponse struct {
	Success  bool                  `json:"success"`
	Messages []service.MessageView `json:"messages"`
}

type markReadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Updated int64  `json:"updated"`
}

type inboxResponse struct {
	Success bool                     `json:"success"`
	Users   []service.ContactSummary `json:"users"`
}

// @Summary      Chat contacts
// @Description  Admins see every other user, everyone else sees the admins. Each row carries the unread count and the last visible message.
// @Tags         chat
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  inboxResponse
// @Failure      401  {object}  errorResponse
// @Router       /chat/users [get]
func handleChatUsers(msgSvc *service.MessageService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := msgSvc.Inbox(r.Context(), CurrentUser(r))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, inboxResponse{Success: true, Users: rows})
	}
}

// @Summary      Message history
// @Description  Conversation with otherUserID in chronological order. Fetching history also marks incoming messages as read.
// @Tags         chat
// @Security     BearerAuth
// @Produce      json
// @Param        otherUserID path string true "Counterpart user ID"
// @Success      200  {object}  historyResponse
// @Failure      400  {object}  errorResponse
// @Failure      401  {object}  errorResponse
// @Router       /chat/messages/{otherUserID} [get]
func handleChatHistory(msgSvc *service.MessageService, live LiveConversations, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer := CurrentUser(r)
		key, err := domain.ConversationKey(viewer.ID, chi.URLParam(r, "otherUserID"))
		if err != nil {
			writeError(w, logger, err)
			return
		}

		// Mark first so the returned page already shows the read state.
		if _, err := markReadAndNotify(r, msgSvc, live, key, viewer.ID); err != nil {
			logger.Warn("history: mark read failed", "room", key, "error", err)
		}

		msgs, err := msgSvc.History(r.Context(), key, viewer.ID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		views, err := msgSvc.Views(r.Context(), msgs, viewer.ID)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, historyResponse{Success: true, Messages: views})
	}
}

// @Summary      Mark as read
// @Description  Mark every message senderID sent to the caller as read
// @Tags         chat
// @Security     BearerAuth
// @Produce      json
// @Param        senderID path string true "Sender user ID"
// @Success      200  {object}  markReadResponse
// @Failure      400  {object}  errorResponse
// @Failure      401  {object}  errorResponse
// @Router       /chat/mark-as-read/{senderID} [put]
func handleMarkAsRead(msgSvc *service.MessageService, live LiveConversations, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer := CurrentUser(r)
		key, err := domain.ConversationKey(viewer.ID, chi.URLParam(r, "senderID"))
		if err != nil {
			writeError(w, logger, err)
			return
		}

		marked, err := markReadAndNotify(r, msgSvc, live, key, viewer.ID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, markReadResponse{Success: true, Message: "Messages marked as read", Updated: marked})
	}
}
