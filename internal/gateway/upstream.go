package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dayuer/botgate/internal/event"
	"github.com/dayuer/botgate/internal/registry"
	"github.com/dayuer/botgate/internal/router"
)

// Redial runs connect until ctx is cancelled, waiting delay after every
// failure or disconnect. There is no attempt limit and no backoff growth.
func Redial(ctx context.Context, name string, delay time.Duration, connect func(ctx context.Context) error) {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	for attempt := 1; ; attempt++ {
		err := connect(ctx)
		if ctx.Err() != nil {
			log.Printf("[Upstream] ⛔ %s: reconnect loop cancelled", name)
			return
		}
		if err != nil {
			log.Printf("[Upstream] ⚠️ %s: %v (attempt %d, retry in %s)", name, err, attempt, delay)
		} else {
			log.Printf("[Upstream] 🔌 %s: disconnected, reconnecting in %s", name, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Printf("[Upstream] ⛔ %s: reconnect loop cancelled", name)
			return
		case <-t.C:
		}
	}
}

// LinkConfig configures an outbound link.
type LinkConfig struct {
	URL               string
	Platform          string
	SelfID            event.ID
	AccessToken       string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatMissed   int
	Registry          *registry.Registry
	Hub               Publisher
	Router            *router.Router
	Dialer            *websocket.Dialer
}

// Link keeps one connection to an upstream consumer open. While connected
// it is a subscriber: the event broadcast flows upstream, and actions the
// upstream sends back are routed to adapters.
type Link struct {
	cfg       LinkConfig
	session   *session
	connected atomic.Bool
}

var linkSeq atomic.Uint64

// NewLink creates a link.
func NewLink(cfg LinkConfig) *Link {
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Link{
		cfg: cfg,
		session: &session{
			reg:      cfg.Registry,
			hub:      cfg.Hub,
			router:   cfg.Router,
			interval: cfg.HeartbeatInterval,
			missed:   cfg.HeartbeatMissed,
		},
	}
}

// Connected reports whether the link currently has a live connection.
func (l *Link) Connected() bool { return l.connected.Load() }

// Run keeps the link up until ctx is cancelled.
func (l *Link) Run(ctx context.Context) {
	Redial(ctx, l.cfg.URL, l.cfg.ReconnectDelay, l.connect)
}

func (l *Link) connect(ctx context.Context) error {
	target, err := l.dialURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("X-Client-Role", ClientRoleUniversal)
	if l.cfg.SelfID != "" {
		header.Set("X-Self-ID", l.cfg.SelfID.String())
	}
	if l.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+l.cfg.AccessToken)
	}

	raw, resp, err := l.cfg.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (HTTP %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}

	id := fmt.Sprintf("upstream-%d", linkSeq.Add(1))
	c := newConn(raw, id, registry.RoleSubscriber, "", l.cfg.Platform)
	log.Printf("[Upstream] ✅ Connected to %s as %s", l.cfg.URL, id)

	l.connected.Store(true)
	defer l.connected.Store(false)

	err = l.session.serve(ctx, c, true)
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
		return nil
	}
	return err
}

func (l *Link) dialURL() (string, error) {
	u, err := url.Parse(l.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid upstream URL %q: %w", l.cfg.URL, err)
	}
	q := u.Query()
	if q.Get("role") == "" {
		q.Set("role", ClientRoleUniversal)
	}
	if l.cfg.Platform != "" && q.Get("platform") == "" {
		q.Set("platform", l.cfg.Platform)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
