package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/dayuer/botgate/internal/event"
)

// fakeConn is an in-memory Conn for tests.
type fakeConn struct {
	id       string
	role     Role
	identity event.ID

	mu     sync.Mutex
	closed bool
	sent   [][]byte
}

func adapter(id string, identity event.ID) *fakeConn {
	return &fakeConn{id: id, role: RoleAdapter, identity: identity}
}

func subscriber(id string) *fakeConn {
	return &fakeConn{id: id, role: RoleSubscriber}
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) Role() Role         { return c.role }
func (c *fakeConn) Identity() event.ID { return c.identity }
func (c *fakeConn) Platform() string   { return "test" }

func (c *fakeConn) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
