// Package event defines the canonical schema shared by adapters, subscribers,
// the hub, the router and the queue workers.
//
// Every platform adapter reports occurrences already normalized to Event;
// outbound commands travel as ActionRequest and come back as ActionResponse.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Post types.
const (
	PostMessage   = "message"
	PostMetaEvent = "meta_event"
	PostLog       = "log"
)

// Message types.
const (
	MessagePrivate = "private"
	MessageGroup   = "group"
	MessageGuild   = "guild"
)

// Meta event types and lifecycle sub types.
const (
	MetaHeartbeat = "heartbeat"
	MetaLifecycle = "lifecycle"

	LifecycleConnect    = "connect"
	LifecycleDisconnect = "disconnect"
)

// ID is a platform identity. Adapters report identities either as JSON
// numbers or strings; numeric identities are written back as numbers.
type ID string

// MarshalJSON emits digit-only identities as JSON numbers.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a number, a string or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("identity: %w", err)
		}
		*id = ID(n.String())
	}
	return nil
}

func (id ID) numeric() bool {
	if len(id) == 0 || len(id) > 19 || (len(id) > 1 && id[0] == '0') {
		return false
	}
	_, err := strconv.ParseUint(string(id), 10, 64)
	return err == nil
}

// String returns the identity as text.
func (id ID) String() string { return string(id) }

// Sender is the nested identity block of a message event.
type Sender struct {
	UserID   ID     `json:"user_id"`
	Nickname string `json:"nickname,omitempty"`
}

// Status is the adapter health block carried by heartbeats.
type Status struct {
	Online bool `json:"online"`
	Good   bool `json:"good"`
}

// Event is the canonical immutable record produced once per adapter-reported
// occurrence.
type Event struct {
	PostType      string  `json:"post_type"`
	MetaEventType string  `json:"meta_event_type,omitempty"`
	SubType       string  `json:"sub_type,omitempty"`
	MessageType   string  `json:"message_type,omitempty"`
	SelfID        ID      `json:"self_id"`
	UserID        ID      `json:"user_id,omitempty"`
	GroupID       ID      `json:"group_id,omitempty"`
	ChannelID     ID      `json:"channel_id,omitempty"`
	Message       string  `json:"message,omitempty"`
	RawMessage    string  `json:"raw_message,omitempty"`
	Sender        *Sender `json:"sender,omitempty"`
	Platform      string  `json:"platform,omitempty"`
	Status        *Status `json:"status,omitempty"`
	Interval      int64   `json:"interval,omitempty"`
	Time          int64   `json:"time"`
}

// IsMessage reports whether the event carries a chat message.
func (e Event) IsMessage() bool { return e.PostType == PostMessage }

// Text returns the plain text of a message event, preferring raw_message.
func (e Event) Text() string {
	if e.RawMessage != "" {
		return e.RawMessage
	}
	return e.Message
}

// Subject returns the key that per-user state is stored under.
func (e Event) Subject() string {
	if e.UserID != "" {
		return e.UserID.String()
	}
	if e.Sender != nil {
		return e.Sender.UserID.String()
	}
	return ""
}

// Heartbeat builds the periodic liveness event for an adapter.
func Heartbeat(selfID ID, interval time.Duration, now time.Time) Event {
	return Event{
		PostType:      PostMetaEvent,
		MetaEventType: MetaHeartbeat,
		SelfID:        selfID,
		Status:        &Status{Online: true, Good: true},
		Interval:      interval.Milliseconds(),
		Time:          now.Unix(),
	}
}

// Lifecycle builds a connect/disconnect event for an adapter.
func Lifecycle(selfID ID, platform, subType string, now time.Time) Event {
	return Event{
		PostType:      PostMetaEvent,
		MetaEventType: MetaLifecycle,
		SubType:       subType,
		SelfID:        selfID,
		Platform:      platform,
		Time:          now.Unix(),
	}
}
