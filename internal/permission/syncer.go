package permission

import (
	"context"
	"log"
	"time"

	"github.com/dayuer/botgate/internal/redis"
)

// Syncer refreshes a Cache from a Source on a fixed interval.
type Syncer struct {
	source   Source
	cache    *Cache
	interval time.Duration
	mirror   *redis.Cache
	now      func() time.Time
}

// NewSyncer creates a syncer. interval defaults to 60s.
func NewSyncer(source Source, cache *Cache, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Syncer{source: source, cache: cache, interval: interval, now: time.Now}
}

// MirrorTo also publishes each loaded snapshot to Redis for RedisSource
// readers.
func (s *Syncer) MirrorTo(c *redis.Cache) *Syncer {
	s.mirror = c
	return s
}

// Sync loads once. On failure the cache keeps its previous snapshot.
func (s *Syncer) Sync(ctx context.Context) error {
	levels, err := s.source.Load(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	s.cache.Replace(levels, now)
	if s.mirror.Available() {
		s.mirror.SetJSON(ctx, redis.KeyPermissions, Snapshot{Levels: levels, Loaded: now}, 0)
	}
	return nil
}

// Run syncs immediately and then every interval until ctx is done.
func (s *Syncer) Run(ctx context.Context) {
	if err := s.Sync(ctx); err != nil {
		log.Printf("[Permission] ⚠️ Initial sync failed: %v", err)
	} else {
		log.Printf("[Permission] ✅ Loaded %d permission(s)", s.cache.Len())
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				log.Printf("[Permission] ⚠️ Sync failed, keeping stale snapshot: %v", err)
			}
		}
	}
}
