package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStream(t *testing.T, maxLen int64) (*RedisStream, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStream(client, "botgate:events", maxLen), mr
}

func TestRedisStream_GroupLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStream(t, 0)

	require.NoError(t, s.EnsureGroup(ctx, "g"))
	require.NoError(t, s.EnsureGroup(ctx, "g"), "existing group is not an error")

	id := addEvent(t, s, "42")
	msgs, err := s.Read(ctx, "g", "w-0", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)

	e, err := Decode(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "42", e.Event.UserID.String())

	msgs, err = s.Read(ctx, "g", "w-0", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	pend, err := s.Pending(ctx, "g")
	require.NoError(t, err)
	assert.EqualValues(t, 1, pend.Count)
	assert.EqualValues(t, 1, pend.Consumers["w-0"])

	require.NoError(t, s.Ack(ctx, "g", id))
	require.NoError(t, s.Ack(ctx, "g"))
	pend, err = s.Pending(ctx, "g")
	require.NoError(t, err)
	assert.Zero(t, pend.Count)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "acked entries stay in the replay window")
}

func TestRedisStream_ClaimIdleEntries(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStream(t, 0)
	require.NoError(t, s.EnsureGroup(ctx, "g"))

	id := addEvent(t, s, "7")
	_, err := s.Read(ctx, "g", "w-0", 10, 0)
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, "g", "w-1", time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	time.Sleep(20 * time.Millisecond)
	claimed, err = s.Claim(ctx, "g", "w-1", 10*time.Millisecond, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
	assert.NotEmpty(t, claimed[0].Payload)

	pend, err := s.Pending(ctx, "g")
	require.NoError(t, err)
	assert.EqualValues(t, 1, pend.Consumers["w-1"])
}

func TestRedisStream_ClaimPagesThroughPendingList(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStream(t, 0)
	require.NoError(t, s.EnsureGroup(ctx, "g"))

	ids := []string{addEvent(t, s, "1"), addEvent(t, s, "2"), addEvent(t, s, "3")}
	_, err := s.Read(ctx, "g", "w-0", 10, 0)
	require.NoError(t, err)

	page, err := s.Claim(ctx, "g", "w-1", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[0], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	page, err = s.Claim(ctx, "g", "w-1", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 1, "second call resumes after the first page")
	assert.Equal(t, ids[2], page[0].ID)

	page, err = s.Claim(ctx, "g", "w-1", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2, "scan wraps to the head of the list")
	assert.Equal(t, ids[0], page[0].ID)

	other, err := s.Claim(ctx, "g", "w-2", 0, 1)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, ids[0], other[0].ID, "each consumer keeps its own cursor")
}

func TestRedisStream_PoolReclaim(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStream(t, 1000)

	attempts := 0
	p := NewPool(PoolConfig{
		Stream:    s,
		Group:     "g",
		ClaimIdle: 10 * time.Millisecond,
		Handler: func(context.Context, Entry) error {
			attempts++
			if attempts == 1 {
				return assert.AnError
			}
			return nil
		},
	})
	require.NoError(t, s.EnsureGroup(ctx, "g"))
	addEvent(t, s, "1")

	n, err := p.Step(ctx, "w-0")
	require.NoError(t, err)
	assert.Zero(t, n)

	time.Sleep(20 * time.Millisecond)
	n, err = p.Step(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, attempts)

	pend, err := s.Pending(ctx, "g")
	require.NoError(t, err)
	assert.Zero(t, pend.Count)
}

func TestRedisStream_ReadWithoutGroup(t *testing.T) {
	s, _ := newRedisStream(t, 0)
	_, err := s.Read(context.Background(), "nope", "c", 1, 0)
	assert.Error(t, err)
}
