package websocket

import (
	"context"
	"errors"
	"io"
	"time"

	"webim/internal/session"
	"webim/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufferSize = 256
)

type Client struct {
	manager *Manager
	conn    *websocket.Conn
	handle  session.Handle
	addr    string
	send    chan []byte
	limiter *rateLimiter
	// closed is guarded by manager.mu.
	closed bool
}

func newClient(m *Manager, conn *websocket.Conn, handle session.Handle) *Client {
	conn.SetReadLimit(m.cfg.MaxMessageSize)

	return &Client{
		manager: m,
		conn:    conn,
		handle:  handle,
		addr:    conn.RemoteAddr().String(),
		send:    make(chan []byte, sendBufferSize),
		limiter: newRateLimiter(m.cfg.RateLimitBurst, m.cfg.RateLimitRefill),
	}
}

func (c *Client) readPump() {
	ctx, cancel := context.WithCancel(c.manager.ctx)
	defer func() {
		cancel()
		c.manager.detach(c.handle)
		c.conn.Close()
		if c.manager.handler != nil {
			c.manager.handler.HandleClose(c.handle)
		}
		logger.Info("Connection %s from %s closed", c.handle, c.addr)
	}()

	// Set read deadline and pong handler for connection health
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.allow() {
			logger.Warn("Rate limit exceeded for %s; discarding frame", c.handle)
			continue
		}

		if c.manager.handler == nil {
			continue
		}
		if err := c.manager.handler.HandleFrame(ctx, c.handle, frame); err != nil {
			logger.Warn("Closing %s: %v", c.handle, err)
			return
		}
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warn("Frame from %s exceeded %d bytes", c.handle, c.manager.cfg.MaxMessageSize)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		logger.Error("WebSocket error on %s: %v", c.handle, err)
	case errors.Is(err, io.EOF):
	default:
		logger.Debug("Read on %s ended: %v", c.handle, err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error on %s: %v", c.handle, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
