package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(time.Minute),
		"redis":  NewRedisStore(client, time.Minute),
	}
}

func TestMachine_FullConversation(t *testing.T) {
	for name, store := range stores(t) {
		store := store // per-iteration copy (pre-Go 1.22 loop semantics)
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewMachine(store)

			r, err := m.Handle(ctx, "U", "start")
			require.NoError(t, err)
			assert.Contains(t, r.Text, "Step 1")
			assert.Equal(t, StateStep1, mustState(t, m, "U"))

			r, err = m.Handle(ctx, "U", "next")
			require.NoError(t, err)
			assert.Contains(t, r.Text, "Step 2")
			assert.Equal(t, StateStep2, mustState(t, m, "U"))

			r, err = m.Handle(ctx, "U", "finish")
			require.NoError(t, err)
			assert.Contains(t, r.Text, "Congratulations")
			assert.Equal(t, StateNone, mustState(t, m, "U"))

			r, err = m.Handle(ctx, "U", "finish")
			require.NoError(t, err)
			assert.Contains(t, r.Text, "Send 'start'")
			assert.False(t, r.Moved)
		})
	}
}

func TestMachine_RepromptAndReset(t *testing.T) {
	for name, store := range stores(t) {
		store := store // per-iteration copy (pre-Go 1.22 loop semantics)
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewMachine(store)

			_, err := m.Handle(ctx, "U", " START ")
			require.NoError(t, err)

			r, err := m.Handle(ctx, "U", "hello")
			require.NoError(t, err)
			assert.Equal(t, ReplyInStep1, r.Text)
			assert.False(t, r.Moved)
			assert.Equal(t, StateStep1, mustState(t, m, "U"))

			r, err = m.Handle(ctx, "U", "reset")
			require.NoError(t, err)
			assert.Equal(t, ReplyReset, r.Text)
			assert.Equal(t, StateNone, mustState(t, m, "U"))
		})
	}
}

func TestMachine_SubjectsAreIndependent(t *testing.T) {
	m := NewMachine(NewMemoryStore(time.Minute))
	ctx := context.Background()

	_, err := m.Handle(ctx, "A", "start")
	require.NoError(t, err)
	assert.Equal(t, StateStep1, mustState(t, m, "A"))
	assert.Equal(t, StateNone, mustState(t, m, "B"))

	_, err = m.Handle(ctx, "", "start")
	assert.Error(t, err)
}

func TestMachine_ConcurrentUpdatesAreAtomic(t *testing.T) {
	for name, store := range stores(t) {
		store := store // per-iteration copy (pre-Go 1.22 loop semantics)
		t.Run(name, func(t *testing.T) {
			m := NewMachine(store)
			var moved atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					r, err := m.Handle(context.Background(), "U", "start")
					assert.NoError(t, err)
					if r.Moved {
						moved.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.EqualValues(t, 1, moved.Load(), "exactly one start may move none → step1")
		})
	}
}

func TestTransition_Table(t *testing.T) {
	cases := []struct {
		cur   State
		input string
		next  State
		moved bool
	}{
		{StateNone, "start", StateStep1, true},
		{StateNone, "next", StateNone, false},
		{StateNone, "reset", StateNone, true},
		{StateStep1, "next", StateStep2, true},
		{StateStep1, "start", StateStep1, false},
		{StateStep1, "reset", StateNone, true},
		{StateStep2, "finish", StateNone, true},
		{StateStep2, "next", StateStep2, false},
		{StateStep2, "reset", StateNone, true},
	}
	for _, tc := range cases {
		next, reply, moved := Transition(tc.cur, tc.input)
		assert.Equal(t, tc.next, next, "%s + %s", tc.cur, tc.input)
		assert.Equal(t, tc.moved, moved, "%s + %s", tc.cur, tc.input)
		assert.NotEmpty(t, reply)
	}
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("Start"))
	assert.True(t, IsCommand(" reset\n"))
	assert.False(t, IsCommand("hello"))
}

func mustState(t *testing.T, m *Machine, subject string) State {
	t.Helper()
	s, err := m.State(context.Background(), subject)
	require.NoError(t, err)
	return s
}
