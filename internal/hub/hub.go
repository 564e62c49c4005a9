// Package hub is the single ingestion queue of the gateway and the
// broadcaster that fans every Event out to all registered subscribers.
//
// Producers (adapter read loops, heartbeat monitors, registry hooks) call
// Publish; one Run goroutine drains the queue in FIFO order. A subscriber
// whose send fails is unregistered and closed without affecting the others,
// and the event is never re-queued. After fan-out each Event is handed to
// every Sink (inline plugin path, durable queue producer) through the sink's
// own ordered buffer; a full buffer drops the event for that sink only.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dayuer/botgate/internal/event"
	"github.com/dayuer/botgate/internal/metrics"
	"github.com/dayuer/botgate/internal/registry"
)

// SinkFunc consumes events after they have been broadcast.
type SinkFunc func(ctx context.Context, ev event.Event)

type sink struct {
	name string
	fn   SinkFunc
	ch   chan event.Event
}

// Config configures a Hub.
type Config struct {
	Registry    *registry.Registry
	Metrics     metrics.Recorder
	QueueSize   int           // ingestion buffer (default 1024)
	SinkBuffer  int           // per-sink buffer (default 256)
	SendTimeout time.Duration // per-subscriber send bound (default 10s)
}

// Hub decouples producers from subscribers.
type Hub struct {
	queue       chan event.Event
	registry    *registry.Registry
	metrics     metrics.Recorder
	sinkBuffer  int
	sendTimeout time.Duration

	mu      sync.Mutex
	sinks   []*sink
	running bool
}

// New creates a hub.
func New(cfg Config) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SinkBuffer <= 0 {
		cfg.SinkBuffer = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	return &Hub{
		queue:       make(chan event.Event, cfg.QueueSize),
		registry:    cfg.Registry,
		metrics:     cfg.Metrics,
		sinkBuffer:  cfg.SinkBuffer,
		sendTimeout: cfg.SendTimeout,
	}
}

// AddSink registers a consumer. Sinks must be added before Run.
func (h *Hub) AddSink(name string, fn SinkFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		log.Printf("[Hub] ⚠️ Sink %s added after Run, ignored", name)
		return
	}
	h.sinks = append(h.sinks, &sink{name: name, fn: fn, ch: make(chan event.Event, h.sinkBuffer)})
}

// Publish enqueues an event. It blocks while the queue is full until ctx is done.
func (h *Hub) Publish(ctx context.Context, ev event.Event) error {
	select {
	case h.queue <- ev:
		h.metrics.EventPublished(ctx, ev.PostType)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.running = true
	sinks := h.sinks
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sinks {
		s := s // per-iteration copy (pre-Go 1.22 loop semantics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.runSink(ctx, s)
		}()
	}
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.queue:
			h.broadcast(ctx, ev)
			for _, s := range sinks {
				h.offer(ctx, s, ev)
			}
		}
	}
}

// broadcast sends ev to every subscriber concurrently and waits for all sends.
func (h *Hub) broadcast(ctx context.Context, ev event.Event) {
	subs := h.registry.Subscribers()
	if len(subs) == 0 {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Hub] ⚠️ Marshal event failed: %v", err)
		return
	}

	var g errgroup.Group
	for _, sub := range subs {
		sub := sub // per-iteration copy (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
			defer cancel()
			if err := sub.Send(sendCtx, data); err != nil {
				log.Printf("[Hub] ⚠️ Delivery to %s failed, dropping subscriber: %v", sub.ID(), err)
				h.metrics.DeliveryFailed(ctx)
				h.registry.Unregister(sub)
				sub.Close()
			}
			return nil
		})
	}
	g.Wait()
}

// offer hands ev to s without waiting. A sink whose buffer is full loses the
// event so that it never holds up the broadcaster.
func (h *Hub) offer(ctx context.Context, s *sink, ev event.Event) {
	select {
	case s.ch <- ev:
	default:
		log.Printf("[Hub] ⚠️ Sink %s is full (%d), dropping %s event", s.name, cap(s.ch), ev.PostType)
		h.metrics.SinkDropped(ctx, s.name)
	}
}

func (h *Hub) runSink(ctx context.Context, s *sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.ch:
			h.consume(ctx, s, ev)
		}
	}
}

func (h *Hub) consume(ctx context.Context, s *sink, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Hub] ⚠️ Sink %s panicked: %v", s.name, r)
		}
	}()
	s.fn(ctx, ev)
}

// QueueLen returns the number of events waiting to be broadcast.
func (h *Hub) QueueLen() int {
	return len(h.queue)
}

// Stats returns hub statistics.
func (h *Hub) Stats() map[string]any {
	h.mu.Lock()
	names := make([]string, 0, len(h.sinks))
	for _, s := range h.sinks {
		names = append(names, s.name)
	}
	h.mu.Unlock()

	return map[string]any{
		"queued":      h.QueueLen(),
		"capacity":    cap(h.queue),
		"sinks":       names,
		"subscribers": h.registry.Len(registry.RoleSubscriber),
	}
}
