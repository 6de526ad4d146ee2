package ws

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"portal_go/internal/domain"
	"portal_go/internal/service"
)

// maxMessageSize leaves room for a maximal body even when every rune arrives
// as an escaped surrogate pair, plus the event envelope.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 12*service.MaxBodyRunes + 4096
)

// Client is one authenticated websocket connection. A single writer
// goroutine drains send, so frames leave in the order they were queued.
type Client struct {
	id     string
	userID string
	user   *domain.User
	conn   *websocket.Conn
	send   chan []byte

	// rooms is guarded by Hub.mu.
	rooms map[string]struct{}

	limiter   *rate.Limiter
	dropped   atomic.Bool
	closeOnce sync.Once
	logger    *slog.Logger
}

func newClient(conn *websocket.Conn, user *domain.User, sendBuffer int, limiter *rate.Limiter, logger *slog.Logger) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	id := uuid.New().String()
	return &Client{
		id:      id,
		userID:  user.ID,
		user:    user,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		rooms:   make(map[string]struct{}),
		limiter: limiter,
		logger:  logger.With("conn_id", id, "user_id", user.ID),
	}
}

// enqueue queues data without blocking. It returns false exactly once, the
// first time the buffer is found full; the client is then treated as gone.
// Callers hold Hub.mu for reading so send cannot be closed underneath.
func (c *Client) enqueue(data []byte) bool {
	if c.dropped.Load() {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return !c.dropped.CompareAndSwap(false, true)
	}
}

// close sends a close frame and tears down the connection.
func (c *Client) close(reason string) {
	c.closeOnce.Do(func() {
		if c.conn == nil {
			return
		}
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, reason), deadline)
		_ = c.conn.Close()
	})
}

// allow applies the inbound rate limit.
func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// readPump reads frames until the connection fails and hands each one to
// handle. Frames are handled one at a time, in arrival order.
func (c *Client) readPump(handle func(data []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		handle(data)
	}
}

// writePump drains send and keeps the connection alive with pings. It
// returns once send is closed by Hub.Unregister or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
