package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const maxFrameSize = 4 * 1024

var errSendBufferFull = errors.New("send buffer full")

// clientFrame is what clients send upstream: typing indicators and
// read acknowledgements.
type clientFrame struct {
	Type           string    `json:"type"` // "typing" or "read"
	ConversationID uuid.UUID `json:"conversationId"`
	IsTyping       bool      `json:"isTyping"`
	UpToSeq        int64     `json:"upToSeq"`
}

// Client pumps one WebSocket connection. It registers itself in the
// presence map for the connection's lifetime and feeds client frames
// into the dispatcher.
type Client struct {
	userID     string
	sock       *websocket.Conn
	dispatcher *Dispatcher
	presence   *Presence

	writeTimeout time.Duration
	pingInterval time.Duration

	send      chan Event
	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(sock *websocket.Conn, userID string, d *Dispatcher, p *Presence, cfg *config.Config) *Client {
	return &Client{
		userID:       userID,
		sock:         sock,
		dispatcher:   d,
		presence:     p,
		writeTimeout: cfg.WSWriteTimeout,
		pingInterval: cfg.WSPingInterval,
		send:         make(chan Event, cfg.WSSendBufferSize),
		done:         make(chan struct{}),
	}
}

// WriteEvent queues an event for delivery. It never blocks; a full
// buffer means the client is too slow and gets dropped by the caller.
func (c *Client) WriteEvent(ev Event) error {
	select {
	case <-c.done:
		return errors.New("channel closed")
	default:
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close()
	})
	return nil
}

// Run registers the client and pumps the connection until it drops.
// It blocks until the connection is gone and the client is
// deregistered.
func (c *Client) Run(ctx context.Context) {
	c.presence.Register(c.userID, c)
	defer func() {
		c.presence.Deregister(c.userID, c)
		_ = c.Close()
	}()

	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	c.sock.SetReadLimit(maxFrameSize)
	readDeadline := 2 * c.pingInterval
	_ = c.sock.SetReadDeadline(time.Now().Add(readDeadline))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("WebSocket read failed", "user", c.userID, "err", err)
			}
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Debug("Ignoring malformed client frame", "user", c.userID, "err", err)
			continue
		}
		switch frame.Type {
		case "typing":
			c.dispatcher.PublishTyping(ctx, frame.ConversationID, c.userID, frame.IsTyping)
		case "read":
			if err := c.dispatcher.PublishReadReceipt(ctx, frame.ConversationID, c.userID, frame.UpToSeq); err != nil {
				log.Debug("Read receipt failed", "user", c.userID, "conversation", frame.ConversationID, "err", err)
			}
		default:
			log.Debug("Ignoring unknown client frame type", "user", c.userID, "type", frame.Type)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.sock.WriteJSON(ev); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
