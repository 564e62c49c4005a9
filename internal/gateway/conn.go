// Package gateway is the WebSocket transport: the inbound server adapters
// and subscribers connect to, outbound links to upstream consumers, and the
// client worker processes use to send actions through a gateway.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dayuer/botgate/internal/event"
	"github.com/dayuer/botgate/internal/registry"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 256
	maxFrame   = 4 << 20
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrSlowPeer   = errors.New("peer too slow")
)

// Conn wraps a websocket.Conn. All writes go through one mutex because
// gorilla/websocket does NOT support concurrent writers; text frames are
// queued and written by writePump.
type Conn struct {
	ws       *websocket.Conn
	id       string
	role     registry.Role
	identity event.ID
	platform string
	remote   string

	writeMu   sync.Mutex
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, id string, role registry.Role, identity event.ID, platform string) *Conn {
	ws.SetReadLimit(maxFrame)
	return &Conn{
		ws:       ws,
		id:       id,
		role:     role,
		identity: identity,
		platform: platform,
		remote:   ws.RemoteAddr().String(),
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() string          { return c.id }
func (c *Conn) Role() registry.Role { return c.role }
func (c *Conn) Identity() event.ID  { return c.identity }
func (c *Conn) Platform() string    { return c.platform }
func (c *Conn) RemoteAddr() string  { return c.remote }

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues one text frame. It fails once the connection is closed, or if
// the queue stays full until ctx is done.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ErrSlowPeer
	}
}

// Ping writes a WS-level ping frame.
func (c *Conn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// Close sends a close frame and closes the socket. Safe to call repeatedly.
func (c *Conn) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith closes the connection with the given close code.
func (c *Conn) CloseWith(code int, text string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// writePump drains the send queue until the connection closes.
func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.TextMessage, data)
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		}
	}
}
