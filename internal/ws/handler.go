package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"portal_go/internal/domain"
	"portal_go/internal/service"
)

// Options tunes the websocket endpoint.
type Options struct {
	AllowedOrigins  []string
	AllowQueryToken bool
	SendBuffer      int
	RatePerSec      float64
	RateBurst       int
}

type handler struct {
	hub      *Hub
	auth     *Authenticator
	messages *service.MessageService
	opts     Options
	logger   *slog.Logger
}

// MakeHandler returns the HTTP handler for the /ws endpoint.
//
// The credential is taken from the upgrade request (Authorization header,
// "bearer, <token>" subprotocol, session cookie, or the token query parameter
// when allowed). Without one, the first frame must be
// {"type":"authenticate","token":...} and must arrive within the
// authenticator's grace period. Events handled afterwards:
//   - join_room               -> add this connection to the conversation group
//   - send_message            -> append, join, broadcast receive_message
//   - edit_message            -> edit, broadcast message_edited
//   - delete_message_me       -> hide for the caller, tell the caller's connections
//   - delete_message_everyone -> hide for both, broadcast message_deleted_everyone
//   - mark_read               -> mark read, broadcast messages_read
func MakeHandler(hub *Hub, auth *Authenticator, messages *service.MessageService, opts Options, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{hub: hub, auth: auth, messages: messages, opts: opts, logger: logger.With("component", "ws")}

	checkOrigin := makeCheckOrigin(opts.AllowedOrigins)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
		Subprotocols:    []string{"bearer"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		var user *domain.User
		credential, source := extractCredential(r, opts.AllowQueryToken)
		if source != SourceNone {
			ctx, cancel := context.WithTimeout(r.Context(), auth.Timeout())
			u, err := auth.Authenticate(ctx, credential)
			cancel()
			if err != nil {
				h.logger.Info("websocket handshake rejected", "source", source, "remote", r.RemoteAddr)
				http.Error(w, domain.PublicMessage(err), http.StatusUnauthorized)
				return
			}
			user = u
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Debug("websocket upgrade failed", "error", err)
			return
		}

		if user == nil {
			user, err = h.authenticateFirstFrame(conn)
			if err != nil {
				h.logger.Info("websocket authentication failed", "remote", r.RemoteAddr, "error", err)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			}
		}

		h.serve(conn, user)
	}
}

// authenticateFirstFrame waits for an authenticate frame within the grace
// period.
func (h *handler) authenticateFirstFrame(conn *websocket.Conn) (*domain.User, error) {
	deadline := time.Now().Add(h.auth.Timeout())
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(deadline)

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, domain.Authentication("no credential received")
	}
	var ev inboundEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.Type != EventAuthenticate {
		return nil, domain.Authentication("first frame must authenticate")
	}

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	return h.auth.Authenticate(ctx, ev.Token)
}

func (h *handler) serve(conn *websocket.Conn, user *domain.User) {
	var limiter *rate.Limiter
	if h.opts.RatePerSec > 0 {
		burst := h.opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(h.opts.RatePerSec), burst)
	}

	c := newClient(conn, user, h.opts.SendBuffer, limiter, h.logger)
	h.hub.Register(c)
	c.logger.Info("websocket connected")

	go c.writePump()
	c.readPump(func(data []byte) { h.dispatch(c, data) })

	h.hub.Unregister(c)
	c.close("bye")
	c.logger.Info("websocket disconnected")
}

// dispatch handles one inbound frame. Persistence runs on a context detached
// from the connection so a disconnect never aborts a committed mutation.
func (h *handler) dispatch(c *Client, data []byte) {
	var ev inboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.reply(c, "", domain.Validation("malformed event"))
		return
	}
	if !c.allow() {
		h.reply(c, ev.Type, domain.RateLimited("rate limit exceeded"))
		return
	}

	ctx := context.Background()
	var err error
	switch ev.Type {
	case EventJoinRoom:
		err = h.joinRoom(c, ev)
	case EventSendMessage:
		err = h.sendMessage(ctx, c, ev)
	case EventEditMessage:
		err = h.editMessage(ctx, c, ev)
	case EventDeleteMessageMe:
		err = h.deleteForMe(ctx, c, ev)
	case EventDeleteMessageEveryone:
		err = h.deleteForEveryone(ctx, c, ev)
	case EventMarkRead:
		err = h.markRead(ctx, c, ev)
	case EventAuthenticate:
		// Already authenticated.
	default:
		err = domain.Validation("unknown event type")
	}

	if err != nil {
		h.reply(c, ev.Type, err)
	}
}

// reply reports err to the originating connection only.
func (h *handler) reply(c *Client, event string, err error) {
	if domain.CodeOf(err) == domain.CodeInternal {
		c.logger.Error("websocket event failed", "event", event, "error", err)
	} else {
		c.logger.Debug("websocket event rejected", "event", event, "error", err)
	}
	h.hub.SendTo(c, newErrorEvent(event, err))
}

func (h *handler) joinRoom(c *Client, ev inboundEvent) error {
	key, err := domain.ConversationKey(c.userID, ev.OtherUserID)
	if err != nil {
		return err
	}
	if !h.hub.Join(c, key) {
		return nil
	}
	h.hub.SendTo(c, roomJoinedEvent{Type: EventRoomJoined, Room: key, OtherUserID: ev.OtherUserID})
	return nil
}

func (h *handler) sendMessage(ctx context.Context, c *Client, ev inboundEvent) error {
	key, err := domain.ConversationKey(c.userID, ev.RecipientID)
	if err != nil {
		return err
	}

	unlock := h.hub.Lock(key)
	defer unlock()

	msg, err := h.messages.Append(ctx, c.userID, ev.RecipientID, ev.Message)
	if err != nil {
		return err
	}
	view, err := h.messages.View(ctx, msg, c.userID)
	if err != nil {
		return err
	}
	h.hub.Join(c, key)
	h.hub.Broadcast(key, messageEvent{Type: EventReceiveMessage, MessageView: view})
	return nil
}

// lockMessage takes the conversation lock of a message. The key of a message
// never changes, so it is safe to read it before locking.
func (h *handler) lockMessage(ctx context.Context, messageID int64) (func(), error) {
	if messageID <= 0 {
		return nil, domain.Validation("messageId is required")
	}
	msg, err := h.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return h.hub.Lock(msg.ConversationKey), nil
}

func (h *handler) editMessage(ctx context.Context, c *Client, ev inboundEvent) error {
	unlock, err := h.lockMessage(ctx, ev.MessageID)
	if err != nil {
		return err
	}
	defer unlock()

	msg, err := h.messages.Edit(ctx, ev.MessageID, c.userID, ev.NewMessage)
	if err != nil {
		return err
	}
	h.hub.BroadcastFunc(msg.ConversationKey, func(userID string) []byte {
		body := msg.Body
		if msg.HiddenFor(userID) {
			body = domain.DeletedPlaceholder
		}
		return marshalEvent(messageEditedEvent{
			Type:     EventMessageEdited,
			ID:       msg.ID,
			Room:     msg.ConversationKey,
			Message:  body,
			IsEdited: true,
		})
	})
	return nil
}

func (h *handler) deleteForMe(ctx context.Context, c *Client, ev inboundEvent) error {
	unlock, err := h.lockMessage(ctx, ev.MessageID)
	if err != nil {
		return err
	}
	defer unlock()

	msg, err := h.messages.SoftDeleteForViewer(ctx, ev.MessageID, c.userID)
	if err != nil {
		return err
	}
	h.hub.SendToUser(c.userID, messageDeletedEvent{
		Type:      EventMessageDeletedMe,
		ID:        msg.ID,
		MessageID: msg.ID,
		Room:      msg.ConversationKey,
	})
	return nil
}

func (h *handler) deleteForEveryone(ctx context.Context, c *Client, ev inboundEvent) error {
	unlock, err := h.lockMessage(ctx, ev.MessageID)
	if err != nil {
		return err
	}
	defer unlock()

	msg, err := h.messages.SoftDeleteForEveryone(ctx, ev.MessageID, c.userID)
	if err != nil {
		return err
	}
	h.hub.Broadcast(msg.ConversationKey, messageDeletedEvent{
		Type:      EventMessageDeletedEveryone,
		ID:        msg.ID,
		MessageID: msg.ID,
		Room:      msg.ConversationKey,
	})
	return nil
}

func (h *handler) markRead(ctx context.Context, c *Client, ev inboundEvent) error {
	key, err := domain.ConversationKey(c.userID, ev.SenderID)
	if err != nil {
		return err
	}

	unlock := h.hub.Lock(key)
	defer unlock()

	if _, err := h.messages.MarkRead(ctx, key, c.userID); err != nil {
		return err
	}
	h.hub.NotifyRead(key, c.userID)
	return nil
}
