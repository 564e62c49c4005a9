// Package queue appends events to a durable stream and consumes them from a
// consumer group with at-least-once delivery.
//
// An entry leaves the group's pending list only when acknowledged. Entries
// left unacknowledged past the idle threshold are reclaimed by another
// consumer, so handlers must tolerate duplicate delivery.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dayuer/botgate/internal/event"
)

// PayloadField is the stream field holding the event JSON.
const PayloadField = "payload"

// ErrDecode marks a stream entry whose payload is not an event.
var ErrDecode = errors.New("undecodable queue entry")

// Message is a raw stream entry as delivered to a consumer.
type Message struct {
	ID         string
	Payload    string
	Deliveries int64
}

// Entry is a decoded stream entry.
type Entry struct {
	ID         string
	Event      event.Event
	Deliveries int64
}

// Decode parses m's payload.
func Decode(m Message) (Entry, error) {
	var ev event.Event
	if m.Payload == "" {
		return Entry{}, fmt.Errorf("%w %s: empty payload", ErrDecode, m.ID)
	}
	if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
		return Entry{}, fmt.Errorf("%w %s: %v", ErrDecode, m.ID, err)
	}
	return Entry{ID: m.ID, Event: ev, Deliveries: m.Deliveries}, nil
}

// Pending summarizes a group's pending entry list.
type Pending struct {
	Count     int64
	Consumers map[string]int64
}

// Stream is an append-only log with consumer groups.
type Stream interface {
	// Add appends payload and returns the stream-assigned id.
	Add(ctx context.Context, payload []byte) (string, error)
	// EnsureGroup creates group (and the stream) if missing.
	EnsureGroup(ctx context.Context, group string) error
	// Read delivers up to count entries never delivered to the group,
	// waiting up to block when none are available.
	Read(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]Message, error)
	// Ack removes ids from the group's pending list.
	Ack(ctx context.Context, group string, ids ...string) error
	// Claim transfers up to count pending entries idle for at least minIdle
	// to consumer.
	Claim(ctx context.Context, group, consumer string, minIdle time.Duration, count int64) ([]Message, error)
	// Pending summarizes the group's pending list.
	Pending(ctx context.Context, group string) (Pending, error)
	// Len returns the number of entries in the stream window.
	Len(ctx context.Context) (int64, error)
}
