package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/coderelay/internal/protocol"
	"github.com/manpreetbhatti/coderelay/internal/ratelimit"
	"github.com/manpreetbhatti/coderelay/internal/relay"
)

// Disconnect after this many rate limit violations
const maxRateLimitWarnings = 1000

// Client is one WebSocket participant. It implements room.Member: Send
// only enqueues onto the outbound buffer drained by writePump.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	session     *relay.Session
	rateLimiter *ratelimit.Limiter
	clientID    string
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, h.transport.SendBuffer),
		done:        make(chan struct{}),
		rateLimiter: ratelimit.NewLimiter(h.transport.MessagesPerSecond, h.transport.MessageBurst),
		clientID:    uuid.NewString(),
	}
}

func (c *Client) ID() string { return c.clientID }

// Send never blocks. It fails when the buffer is full or the client is
// shutting down.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	logger := c.hub.logger.With("client", c.clientID)
	defer func() {
		c.session.Close()
		c.shutdown()
		c.conn.Close()
		c.hub.metrics.ConnectionClosed()
		logger.Info("client.disconnected")
	}()

	pongWait := c.hub.transport.PongWait
	c.conn.SetReadLimit(c.hub.transport.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("client.read", "err", err)
			}
			return
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				logger.Warn("client.rate_limited", "warnings", rateLimitWarnings)
				c.reject(protocol.MsgRateLimited)
			}
			c.hub.metrics.MessageRejected("rate_limited")
			if rateLimitWarnings > maxRateLimitWarnings {
				logger.Warn("client.rate_limit_disconnect")
				return
			}
			continue
		}

		if err := c.session.Handle(message); err != nil {
			if errors.Is(err, relay.ErrClosed) {
				return
			}
			logger.Debug("client.message_rejected", "err", err)
		}
	}
}

func (c *Client) reject(text string) {
	payload, err := protocol.Encode(protocol.Error{Message: text})
	if err == nil {
		c.Send(payload)
	}
}

func (c *Client) writePump() {
	writeWait := c.hub.transport.WriteWait
	ticker := time.NewTicker(pingPeriod(c.hub.transport.PongWait))
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}
