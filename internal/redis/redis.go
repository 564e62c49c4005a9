// Package redis connects to the durable store shared by gateway and worker
// processes (event stream, conversation state, permission snapshot).
//
// Graceful fallback: Cache operations on an unavailable client return zero
// values instead of blocking the business logic.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes.
const (
	KeyConversation = "botgate:conv:"       // per-subject conversation state
	KeyPermissions  = "botgate:permissions" // permission snapshot (JSON)
)

// Config holds Redis connection settings.
type Config struct {
	URL      string // redis://host:port/db
	Password string
	DB       int
}

// ErrNotConfigured is returned by Connect when no URL is set.
var ErrNotConfigured = errors.New("redis URL not configured")

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	c := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[Redis] ✅ Connected to %s (db %d)", opts.Addr, opts.DB)
	return c, nil
}

// ConversationKey returns the key holding subject's conversation state.
func ConversationKey(subject string) string {
	return KeyConversation + subject
}

// Cache is a string/JSON cache over an optional client.
type Cache struct {
	client *redis.Client
}

// NewCache wraps c. A nil client yields a cache that stores nothing.
func NewCache(c *redis.Client) *Cache {
	return &Cache{client: c}
}

// Available reports whether the cache has a client.
func (c *Cache) Available() bool { return c != nil && c.client != nil }

// get reads a string value. Returns "" if missing or unavailable.
func (c *Cache) get(ctx context.Context, key string) string {
	if !c.Available() {
		return ""
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[Redis] get failed (%s): %v", key, err)
		}
		return ""
	}
	return val
}

// set writes a string value with TTL (0 = no expiry). Returns false on failure.
func (c *Cache) set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if !c.Available() {
		return false
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("[Redis] set failed (%s): %v", key, err)
		return false
	}
	return true
}

// GetJSON reads a JSON value into out. Returns false if not found or on error.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) bool {
	raw := c.get(ctx, key)
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.Printf("[Redis] get_json parse failed (%s): %v", key, err)
		return false
	}
	return true
}

// SetJSON writes a JSON-serialized value with TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[Redis] set_json marshal failed (%s): %v", key, err)
		return false
	}
	return c.set(ctx, key, string(data), ttl)
}
