package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dayuer/botgate/internal/redis"
)

// maxTxRetries bounds optimistic transaction retries under contention.
const maxTxRetries = 16

// ErrContention is returned when an update keeps losing WATCH races.
var ErrContention = errors.New("conversation update contention")

// RedisStore keeps state in Redis with SET EX expiry, so every worker in a
// consumer group sees the same conversation.
type RedisStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *goredis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (State, error) {
	val, err := s.client.Get(ctx, redis.ConversationKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return StateNone, nil
	}
	if err != nil {
		return StateNone, err
	}
	return State(val), nil
}

// Update runs fn inside a WATCH/MULTI transaction, retrying when another
// writer touched the key first.
func (s *RedisStore) Update(ctx context.Context, key string, fn Mutation) (State, error) {
	k := redis.ConversationKey(key)

	var result State
	txf := func(tx *goredis.Tx) error {
		cur := StateNone
		val, err := tx.Get(ctx, k).Result()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			cur = State(val)
		}

		next, write := fn(cur)
		if !write {
			result = cur
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if next == StateNone {
				pipe.Del(ctx, k)
			} else {
				pipe.Set(ctx, k, string(next), s.ttl)
			}
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return StateNone, fmt.Errorf("update %s: %w", k, err)
		}
		return result, nil
	}
	return StateNone, fmt.Errorf("%w: %s", ErrContention, k)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, redis.ConversationKey(key)).Err()
}
