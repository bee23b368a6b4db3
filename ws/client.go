// Package ws adapts gorilla/websocket connections to the chat core. Each
// accepted socket becomes a client implementing chat.Conn, with one read
// pump feeding the dispatcher and one write pump draining the outbound
// queue in FIFO order.
package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/salachat/salachat/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// A client is one live websocket connection. The identity binding is fixed
// at accept time and never read from client payloads afterwards.
type client struct {
	id         string
	conn       *websocket.Conn
	send       chan chat.Event
	ident      chat.Identity
	authed     bool
	dispatcher *chat.Dispatcher
	logger     *slog.Logger

	done     chan struct{}
	doneOnce sync.Once
}

func newClient(conn *websocket.Conn, ident chat.Identity, authed bool, d *chat.Dispatcher, logger *slog.Logger) *client {
	conn.SetReadLimit(maxMessageSize)
	return &client{
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan chat.Event, sendBuffer),
		ident:      ident,
		authed:     authed,
		dispatcher: d,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// ID returns the opaque connection handle presence entries are keyed by.
func (c *client) ID() string {
	return c.id
}

// Identity returns the server-held identity binding, if any.
func (c *client) Identity() (chat.Identity, bool) {
	return c.ident, c.authed
}

// Send enqueues an outbound event without blocking. False means the
// connection is closing or its queue is full; the caller treats either as a
// dead connection and moves on.
func (c *client) Send(ev chat.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

// readPump reads inbound events and hands them to the dispatcher. It owns
// the deterministic cleanup: on any read failure the presence entry is
// removed before the socket is closed.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.close()
		c.dispatcher.Disconnect(c)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("Could not close connection", "conn", c.id, "error", err.Error())
		}
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Could not set read deadline", "conn", c.id, "error", err.Error())
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in chat.Inbound
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Unexpected close", "conn", c.id, "error", err.Error())
			}
			return
		}
		c.dispatcher.Dispatch(ctx, c, in)
	}
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with pings. Events leave in the order they were queued.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("Could not close connection", "conn", c.id, "error", err.Error())
		}
	}()

	for {
		select {
		case ev := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Debug("Could not write event", "conn", c.id, "error", err.Error())
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
