package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dayuer/botgate/internal/event"
	"github.com/dayuer/botgate/internal/heartbeat"
	"github.com/dayuer/botgate/internal/registry"
	"github.com/dayuer/botgate/internal/router"
)

// Publisher accepts inbound events (the hub).
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

// session serves connections once they are established, on either side of
// the socket.
type session struct {
	reg      *registry.Registry
	hub      Publisher
	router   *router.Router
	interval time.Duration
	missed   int
}

// serve runs c until it closes or ctx is done. Registered connections join
// the registry for their lifetime; in-flight actions routed to c fail when
// it goes away.
func (s *session) serve(ctx context.Context, c *Conn, register bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			c.CloseWith(websocket.CloseGoingAway, "shutdown")
		case <-c.Done():
		}
	}()

	if register {
		if _, err := s.reg.Register(c); err != nil {
			c.Close()
			return err
		}
	}
	defer func() {
		if register {
			s.reg.Unregister(c)
		}
		c.Close()
		s.router.FailPending(c.ID())
	}()

	var pub heartbeat.Publisher
	if c.Role() == registry.RoleAdapter {
		pub = s.hub
	}
	mon := heartbeat.New(c, heartbeat.Config{
		Interval:  s.interval,
		Missed:    s.missed,
		Publisher: pub,
		OnDead: func(reason string) {
			log.Printf("[WS] 💀 Closing %s: %s", c.ID(), reason)
			c.CloseWith(websocket.CloseGoingAway, reason)
		},
	})
	go mon.Run(ctx)

	c.ws.SetPongHandler(func(string) error {
		mon.Touch()
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] ⚠️ %s read error: %v", c.ID(), err)
			}
			return err
		}
		mon.Touch()
		s.handleFrame(ctx, c, data)
	}
}

func (s *session) handleFrame(ctx context.Context, c *Conn, data []byte) {
	frame, err := event.DecodeFrame(data)
	if err != nil {
		log.Printf("[WS] ⚠️ %s sent an unreadable frame: %v", c.ID(), err)
		return
	}

	switch {
	case frame.Event != nil:
		s.ingest(ctx, c, *frame.Event)

	case frame.Response != nil:
		if !s.router.Resolve(*frame.Response) {
			log.Printf("[WS] ⚠️ %s: response with unknown echo %s", c.ID(), frame.Response.Echo)
		}

	case frame.Request != nil:
		req := *frame.Request
		go func() {
			resp := s.router.Dispatch(ctx, req)
			out, err := json.Marshal(resp)
			if err != nil {
				log.Printf("[WS] ❌ encode response for %s: %v", req.Action, err)
				return
			}
			if err := c.Send(ctx, out); err != nil {
				log.Printf("[WS] ⚠️ %s: response to %s not delivered: %v", c.ID(), req.Action, err)
			}
		}()
	}
}

// ingest publishes an adapter's event. Adapter heartbeats only prove
// liveness; the gateway emits its own.
func (s *session) ingest(ctx context.Context, c *Conn, ev event.Event) {
	if c.Role() != registry.RoleAdapter {
		return
	}
	if ev.PostType == event.PostMetaEvent && ev.MetaEventType == event.MetaHeartbeat {
		return
	}
	if ev.SelfID == "" {
		ev.SelfID = c.Identity()
	}
	if ev.Platform == "" {
		ev.Platform = c.Platform()
	}
	if ev.Time == 0 {
		ev.Time = time.Now().Unix()
	}
	if err := s.hub.Publish(ctx, ev); err != nil {
		log.Printf("[WS] ⚠️ %s: event dropped: %v", c.ID(), err)
	}
}
