package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// Client represents a single WebSocket connection subscribed to one topic.
type Client struct {
	hub   *Hub
	conn  *ws.Conn
	topic string
	send  chan []byte
	// closeAfter ends the connection after that many messages; zero keeps it open.
	closeAfter int
}

// NewClient creates a Client tied to the given hub, connection and topic.
func NewClient(hub *Hub, conn *ws.Conn, topic string, closeAfter int) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		topic:      topic,
		send:       make(chan []byte, sendBufferSize),
		closeAfter: closeAfter,
	}
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		c.writePump(ctx)
		cancel()
	}()
	c.readPump(ctx)
}

// readPump discards incoming messages until the connection fails or ctx ends.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

// writePump drains the send channel and writes messages to the WebSocket.
// It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
			sent++
			if c.closeAfter > 0 && sent >= c.closeAfter {
				c.conn.Close(ws.StatusNormalClosure, "delivered")
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
