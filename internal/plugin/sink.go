package plugin

import (
	"context"
	"log"

	"github.com/dayuer/botgate/internal/event"
	"github.com/dayuer/botgate/internal/hub"
)

// Dispatcher sends an action to an adapter (the router, or a gateway client
// in worker processes).
type Dispatcher interface {
	Dispatch(ctx context.Context, req event.ActionRequest) event.ActionResponse
}

// Handle runs the pipeline over ev and, when a plugin replied, sends the
// reply back to the conversation ev came from. It reports whether default
// handling was blocked.
func Handle(ctx context.Context, p *Pipeline, d Dispatcher, ev event.Event) (blocked bool, err error) {
	if !ev.IsMessage() {
		return false, nil
	}
	reply, block := p.Process(ctx, NewContext(ev))
	if reply == "" {
		return block, nil
	}

	resp := d.Dispatch(ctx, event.SendMessage(ev, reply))
	if !resp.OK() {
		return block, &ReplyError{Retcode: resp.Retcode, Message: resp.Message}
	}
	return block, nil
}

// ReplyError reports a reply the adapter refused or never received.
type ReplyError struct {
	Retcode int
	Message string
}

func (e *ReplyError) Error() string {
	return "reply not delivered: " + e.Message
}

// Sink adapts the pipeline to a hub sink for inline processing.
func Sink(p *Pipeline, d Dispatcher) hub.SinkFunc {
	return func(ctx context.Context, ev event.Event) {
		if _, err := Handle(ctx, p, d, ev); err != nil {
			log.Printf("[Plugin] ⚠️ self_id=%s user=%s: %v", ev.SelfID, ev.Subject(), err)
		}
	}
}
