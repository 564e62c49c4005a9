// Package heartbeat watches the liveness of adapter connections.
//
// One Monitor runs per adapter connection. Every interval it publishes a
// heartbeat meta event for the adapter and pings the transport; if nothing
// has been read from the connection for Missed consecutive intervals the
// connection is declared dead and OnDead fires exactly once.
package heartbeat

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dayuer/botgate/internal/event"
)

// Publisher accepts heartbeat events (the hub).
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

// Target is the monitored connection.
type Target interface {
	ID() string
	Identity() event.ID
	Ping() error
}

// Config configures a Monitor.
type Config struct {
	Interval  time.Duration // default 5s
	Missed    int           // default 3
	Publisher Publisher
	OnDead    func(reason string)
	Now       func() time.Time
}

// Monitor tracks one connection.
type Monitor struct {
	target    Target
	interval  time.Duration
	missed    int
	publisher Publisher
	onDead    func(string)
	now       func() time.Time

	lastSeen atomic.Int64
	deadOnce sync.Once
}

// New creates a monitor; the connection counts as seen at creation time.
func New(target Target, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Missed <= 0 {
		cfg.Missed = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &Monitor{
		target:    target,
		interval:  cfg.Interval,
		missed:    cfg.Missed,
		publisher: cfg.Publisher,
		onDead:    cfg.OnDead,
		now:       cfg.Now,
	}
	m.Touch()
	return m
}

// Touch records activity on the connection.
func (m *Monitor) Touch() {
	m.lastSeen.Store(m.now().UnixNano())
}

// Idle returns how long the connection has been silent.
func (m *Monitor) Idle() time.Duration {
	return m.now().Sub(time.Unix(0, m.lastSeen.Load()))
}

// Run ticks until ctx is cancelled or the connection is declared dead.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if idle := m.Idle(); idle > time.Duration(m.missed)*m.interval {
				log.Printf("[Heartbeat] 💀 %s (self_id=%s) silent for %s", m.target.ID(), m.target.Identity(), idle.Round(time.Millisecond))
				m.dead("heartbeat timeout")
				return
			}

			if m.publisher != nil {
				hb := event.Heartbeat(m.target.Identity(), m.interval, m.now())
				if err := m.publisher.Publish(ctx, hb); err != nil {
					return
				}
			}

			if err := m.target.Ping(); err != nil {
				log.Printf("[Heartbeat] ⚠️ Ping %s failed: %v", m.target.ID(), err)
				m.dead("ping failed")
				return
			}
		}
	}
}

func (m *Monitor) dead(reason string) {
	m.deadOnce.Do(func() {
		if m.onDead != nil {
			m.onDead(reason)
		}
	})
}
