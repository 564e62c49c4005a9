package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/dayuer/botgate/internal/event"
	"github.com/dayuer/botgate/internal/hub"
	"github.com/dayuer/botgate/internal/metrics"
)

// Producer appends hub events of selected post types to a stream.
type Producer struct {
	stream    Stream
	postTypes map[string]bool
	metrics   metrics.Recorder
}

// NewProducer creates a producer accepting postTypes (all when empty).
func NewProducer(stream Stream, postTypes []string, rec metrics.Recorder) *Producer {
	if rec == nil {
		rec = metrics.Noop{}
	}
	set := make(map[string]bool, len(postTypes))
	for _, pt := range postTypes {
		set[pt] = true
	}
	return &Producer{stream: stream, postTypes: set, metrics: rec}
}

// Accepts reports whether ev belongs in the stream.
func (p *Producer) Accepts(ev event.Event) bool {
	return len(p.postTypes) == 0 || p.postTypes[ev.PostType]
}

// Append writes ev to the stream and returns its entry id.
func (p *Producer) Append(ctx context.Context, ev event.Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	return p.stream.Add(ctx, data)
}

// Sink returns a hub sink appending accepted events.
func (p *Producer) Sink() hub.SinkFunc {
	return func(ctx context.Context, ev event.Event) {
		if !p.Accepts(ev) {
			return
		}
		if _, err := p.Append(ctx, ev); err != nil {
			p.metrics.QueueEntry(ctx, metrics.QueueDropped, 1)
			log.Printf("[Queue] ❌ Append failed (self_id=%s): %v", ev.SelfID, err)
		}
	}
}
