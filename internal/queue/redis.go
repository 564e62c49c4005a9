package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStream is a Stream backed by a Redis stream (XADD/XREADGROUP/XACK/
// XAUTOCLAIM).
type RedisStream struct {
	client *goredis.Client
	key    string
	maxLen int64

	mu      sync.Mutex
	cursors map[string]string // group/consumer -> next XAUTOCLAIM start
}

// NewRedisStream creates a stream at key trimmed to roughly maxLen entries
// (0 = unbounded).
func NewRedisStream(client *goredis.Client, key string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, key: key, maxLen: maxLen, cursors: make(map[string]string)}
}

// Key returns the stream key.
func (s *RedisStream) Key() string { return s.key }

func (s *RedisStream) Add(ctx context.Context, payload []byte) (string, error) {
	args := &goredis.XAddArgs{
		Stream: s.key,
		Values: map[string]any{PayloadField: string(payload)},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", s.key, err)
	}
	return id, nil
}

func (s *RedisStream) EnsureGroup(ctx context.Context, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, s.key, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, s.key, err)
	}
	return nil
}

func (s *RedisStream) Read(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	if block <= 0 {
		// go-redis treats 0 as "block forever"; negative omits BLOCK.
		block = -1
	}
	res, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{s.key, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", s.key, err)
	}

	var out []Message
	for _, st := range res {
		for _, m := range st.Messages {
			out = append(out, toMessage(m, 1))
		}
	}
	return out, nil
}

func (s *RedisStream) Ack(ctx context.Context, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.key, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", s.key, err)
	}
	return nil
}

// Claim continues the XAUTOCLAIM scan where the consumer's previous call
// stopped, so a long pending list is walked in count-sized pages instead of
// rescanning its head. The cursor wraps to 0-0 at the end of the list.
func (s *RedisStream) Claim(ctx context.Context, group, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	cursorKey := group + "/" + consumer
	s.mu.Lock()
	start, ok := s.cursors[cursorKey]
	s.mu.Unlock()
	if !ok {
		start = "0-0"
	}

	msgs, next, err := s.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   s.key,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xautoclaim %s: %w", s.key, err)
	}
	if next == "" {
		next = "0-0"
	}
	s.mu.Lock()
	s.cursors[cursorKey] = next
	s.mu.Unlock()
	if len(msgs) == 0 {
		return nil, nil
	}

	deliveries := s.deliveryCounts(ctx, group, consumer, msgs)
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessage(m, deliveries[m.ID]))
	}
	return out, nil
}

// deliveryCounts looks up delivery counts for freshly claimed messages.
// Best effort: a failed lookup leaves counts at zero.
func (s *RedisStream) deliveryCounts(ctx context.Context, group, consumer string, msgs []goredis.XMessage) map[string]int64 {
	counts := make(map[string]int64, len(msgs))
	ext, err := s.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream:   s.key,
		Group:    group,
		Start:    msgs[0].ID,
		End:      msgs[len(msgs)-1].ID,
		Count:    int64(len(msgs)) * 4,
		Consumer: consumer,
	}).Result()
	if err != nil {
		return counts
	}
	for _, p := range ext {
		counts[p.ID] = p.RetryCount
	}
	return counts
}

func (s *RedisStream) Pending(ctx context.Context, group string) (Pending, error) {
	res, err := s.client.XPending(ctx, s.key, group).Result()
	if err != nil {
		return Pending{}, fmt.Errorf("xpending %s: %w", s.key, err)
	}
	return Pending{Count: res.Count, Consumers: res.Consumers}, nil
}

func (s *RedisStream) Len(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, s.key).Result()
}

func toMessage(m goredis.XMessage, deliveries int64) Message {
	payload, _ := m.Values[PayloadField].(string)
	return Message{ID: m.ID, Payload: payload, Deliveries: deliveries}
}
