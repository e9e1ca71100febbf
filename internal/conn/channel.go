package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Channel is the abstract duplex message channel the engine consumes.
// The transport (TLS, upgrade handshake) is the runtime's concern; the
// engine only reads and writes whole messages.
type Channel interface {
	// ReadMessage blocks until the next inbound message or a
	// channel-level error.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one outbound message.
	WriteMessage(data []byte) error
	// Close tears the channel down; a blocked ReadMessage returns an
	// error afterwards.
	Close() error
}

// Dialer opens a Channel to a sensor endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Channel, error)
}

const wsWriteTimeout = 10 * time.Second

// wsChannel adapts a websocket connection to the Channel interface.
// Reads are single-goroutine (the manager's read loop); writes are
// serialised with a mutex because ping probes and commands come from
// different goroutines.
type wsChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsChannel) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsChannel) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsChannel) Close() error {
	c.writeMu.Lock()
	// Best-effort close frame; the peer may already be gone.
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// WebSocketDialer dials sensor endpoints over websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial opens a websocket connection to url (ws:// or wss://).
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Channel, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	c, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsChannel{conn: c}, nil
}
