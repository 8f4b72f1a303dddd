package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/protocol"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/ratelimit"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/room"
)

// Client is one WebSocket connection. It is the room.Sink for its member:
// the room actor queues frames with Enqueue and ends the connection with Close.
type Client struct {
	gateway     *Gateway
	conn        *websocket.Conn
	send        chan []byte
	roomID      string
	name        string
	id          string
	rateLimiter *ratelimit.Limiter

	room   *room.Actor
	member *room.Member

	mu     sync.Mutex
	closed bool
}

// Enqueue never blocks; a full queue means the client is too slow to keep
func (c *Client) Enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close ends the write pump, which sends a close frame and drops the socket
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump is the only place a connection leaves its room
func (c *Client) readPump() {
	log := c.gateway.log.With("room", c.roomID, "client", c.id)
	defer func() {
		if err := c.room.Leave(context.Background(), c.member); err != nil {
			log.Warn("ws.leave", "err", err)
		}
		c.conn.Close()
		c.gateway.release()
		log.Info("ws.disconnected")
	}()

	cfg := c.gateway.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("ws.read", "err", err)
			}
			return
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			c.gateway.metrics.FrameDropped("rate_limited")
			if rateLimitWarnings%100 == 1 {
				log.Warn("ws.rate_limited", "warnings", rateLimitWarnings)
			}
			if cfg.MaxViolations > 0 && rateLimitWarnings > cfg.MaxViolations {
				log.Warn("ws.rate_limited.disconnect", "warnings", rateLimitWarnings)
				return
			}
			continue
		}

		if err := c.dispatch(message); err != nil {
			log.Info("ws.room_gone", "err", err)
			return
		}
	}
}

// dispatch applies one frame. Protocol errors are logged and swallowed;
// the returned error means the room itself is gone.
func (c *Client) dispatch(frame []byte) error {
	msg, err := protocol.Decode(frame)
	if err != nil {
		c.gateway.metrics.FrameDropped(dropReason(err))
		c.gateway.log.Debug("ws.frame.dropped", "room", c.roomID, "client", c.id, "err", err)
		return nil
	}

	ctx := context.Background()
	switch m := msg.(type) {
	case protocol.UpdateRequest:
		err = c.room.ApplyUpdate(ctx, c.member, m.Code)
	case protocol.ChatRequest:
		err = c.room.AppendChat(ctx, c.member, m.Text)
	default:
		c.gateway.metrics.FrameDropped("unhandled")
		return nil
	}
	if err != nil {
		return err
	}

	c.gateway.metrics.FrameAccepted(string(msg.Type()))
	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		return "malformed"
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, protocol.ErrMissingField):
		return "missing_field"
	default:
		return "invalid"
	}
}

func (c *Client) writePump() {
	cfg := c.gateway.cfg
	ticker := time.NewTicker(cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				// readPump sees the closed socket and runs the leave path
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
