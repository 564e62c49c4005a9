// Package conversation implements the per-subject multi-turn state machine:
// none → step1 → step2 → cleared, with a TTL refreshed on each transition.
// An expired subject behaves exactly like one in the none state.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// State is a conversation state label.
type State string

const (
	StateNone  State = "none"
	StateStep1 State = "step1"
	StateStep2 State = "step2"
)

// Commands understood by the machine.
const (
	CmdStart  = "start"
	CmdNext   = "next"
	CmdFinish = "finish"
	CmdReset  = "reset"
)

// DefaultTTL is how long an idle conversation survives.
const DefaultTTL = 300 * time.Second

// Replies sent for each transition.
const (
	ReplyStep1    = "Step 1: You have started the process. Send 'next' to continue."
	ReplyStep2    = "Step 2: Almost there. Send 'finish' to complete."
	ReplyFinished = "Congratulations! You have completed all steps."
	ReplyReset    = "Conversation reset. Send 'start' to begin again."
	ReplyIdle     = "Send 'start' to begin."
	ReplyInStep1  = "You are at step 1. Send 'next' to continue, or 'reset' to start over."
	ReplyInStep2  = "You are at step 2. Send 'finish' to complete, or 'reset' to start over."
)

// Mutation computes the next state from the current one. write=false leaves
// the stored state (and its expiry) untouched; writing StateNone deletes it.
type Mutation func(current State) (next State, write bool)

// Store persists conversation state per key. Update must apply fn atomically
// with respect to other updates of the same key.
type Store interface {
	Get(ctx context.Context, key string) (State, error)
	Update(ctx context.Context, key string, fn Mutation) (State, error)
	Delete(ctx context.Context, key string) error
}

// Reply is the result of feeding one message to the machine.
type Reply struct {
	Text  string
	From  State
	To    State
	Moved bool
}

// Machine drives conversations stored in a Store.
type Machine struct {
	store Store
}

// NewMachine creates a machine over store.
func NewMachine(store Store) *Machine {
	return &Machine{store: store}
}

// Handle feeds text from subject to the machine and returns the reply.
func (m *Machine) Handle(ctx context.Context, subject, text string) (Reply, error) {
	if subject == "" {
		return Reply{}, fmt.Errorf("conversation: empty subject")
	}
	input := normalize(text)

	var r Reply
	_, err := m.store.Update(ctx, subject, func(cur State) (State, bool) {
		next, reply, moved := Transition(cur, input)
		r = Reply{Text: reply, From: cur, To: next, Moved: moved}
		return next, moved
	})
	if err != nil {
		return Reply{}, fmt.Errorf("conversation %s: %w", subject, err)
	}
	return r, nil
}

// State returns subject's current state.
func (m *Machine) State(ctx context.Context, subject string) (State, error) {
	return m.store.Get(ctx, subject)
}

// Reset clears subject's conversation.
func (m *Machine) Reset(ctx context.Context, subject string) error {
	return m.store.Delete(ctx, subject)
}

// Transition is the pure transition table.
func Transition(cur State, input string) (next State, reply string, moved bool) {
	if input == CmdReset {
		return StateNone, ReplyReset, true
	}

	switch cur {
	case StateStep1:
		if input == CmdNext {
			return StateStep2, ReplyStep2, true
		}
		return cur, ReplyInStep1, false
	case StateStep2:
		if input == CmdFinish {
			return StateNone, ReplyFinished, true
		}
		return cur, ReplyInStep2, false
	default:
		if input == CmdStart {
			return StateStep1, ReplyStep1, true
		}
		return StateNone, ReplyIdle, false
	}
}

// IsCommand reports whether text is one of the machine's commands.
func IsCommand(text string) bool {
	switch normalize(text) {
	case CmdStart, CmdNext, CmdFinish, CmdReset:
		return true
	}
	return false
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
