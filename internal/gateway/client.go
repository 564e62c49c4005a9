package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dayuer/botgate/internal/event"
	"github.com/dayuer/botgate/internal/heartbeat"
	"github.com/dayuer/botgate/internal/registry"
)

// ClientConfig configures a gateway client.
type ClientConfig struct {
	URL               string
	AccessToken       string
	Timeout           time.Duration // per action, default 30s
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatMissed   int
	Dialer            *websocket.Dialer
}

// Client sends actions to adapters through a gateway over an action-only
// connection. Responses are matched to requests by echo.
type Client struct {
	cfg ClientConfig

	mu      sync.Mutex
	conn    *Conn
	pending map[string]chan event.ActionResponse
}

// NewClient creates a client; call Run to connect.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, pending: make(map[string]chan event.ActionResponse)}
}

// Run keeps the connection up until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	Redial(ctx, c.cfg.URL, c.cfg.ReconnectDelay, c.connect)
}

// Connected reports whether the client has a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) connect(ctx context.Context) error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid gateway URL %q: %w", c.cfg.URL, err)
	}
	q := u.Query()
	q.Set("role", ClientRoleAction)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	raw, resp, err := c.cfg.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (HTTP %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}

	conn := newConn(raw, "gateway", registry.RoleSubscriber, "", "")
	go conn.writePump()
	log.Printf("[Client] ✅ Connected to gateway %s", c.cfg.URL)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.disconnect(conn)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			conn.CloseWith(websocket.CloseGoingAway, "shutdown")
		case <-conn.Done():
		}
	}()

	mon := heartbeat.New(conn, heartbeat.Config{
		Interval: c.cfg.HeartbeatInterval,
		Missed:   c.cfg.HeartbeatMissed,
		OnDead:   func(string) { conn.CloseWith(websocket.CloseGoingAway, "heartbeat timeout") },
	})
	go mon.Run(ctx)
	raw.SetPongHandler(func(string) error {
		mon.Touch()
		return nil
	})

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return err
		}
		mon.Touch()

		frame, err := event.DecodeFrame(data)
		if err != nil || frame.Response == nil {
			continue
		}
		c.resolve(*frame.Response)
	}
}

// disconnect drops conn and fails every request still waiting on it.
func (c *Client) disconnect(conn *Conn) {
	conn.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	for token, ch := range c.pending {
		delete(c.pending, token)
		ch <- event.Failed(event.RetcodeTimeout, "gateway connection lost", nil)
	}
}

func (c *Client) resolve(resp event.ActionResponse) {
	var token string
	if err := json.Unmarshal(resp.Echo, &token); err != nil {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[token]
	delete(c.pending, token)
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// Dispatch sends req through the gateway and waits for the response. The
// caller's echo is restored on the result.
func (c *Client) Dispatch(ctx context.Context, req event.ActionRequest) event.ActionResponse {
	token := uuid.NewString()
	ch := make(chan event.ActionResponse, 1)

	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		c.pending[token] = ch
	}
	c.mu.Unlock()
	if conn == nil {
		return event.Failed(event.RetcodeNoTarget, "gateway not connected", req.Echo)
	}
	defer func() {
		c.mu.Lock()
		delete(c.pending, token)
		c.mu.Unlock()
	}()

	out := req
	out.Echo = json.RawMessage(strconv.Quote(token))
	data, err := json.Marshal(out)
	if err != nil {
		return event.Failed(event.RetcodeBadRequest, err.Error(), req.Echo)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := conn.Send(ctx, data); err != nil {
		return event.Failed(event.RetcodeExecFailed, fmt.Sprintf("send to gateway: %v", err), req.Echo)
	}

	select {
	case resp := <-ch:
		resp.Echo = req.Echo
		return resp
	case <-ctx.Done():
		return event.Failed(event.RetcodeTimeout, "timed out waiting for gateway", req.Echo)
	}
}
