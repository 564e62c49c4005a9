package permission

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/botgate/internal/redis"
)

func openDB(t *testing.T) *SQLSource {
	t.Helper()
	src, err := OpenSQLite(filepath.Join(t.TempDir(), "perm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func TestCache_Defaults(t *testing.T) {
	c := NewCache()
	assert.Equal(t, LevelUser, c.Level("anyone"))
	assert.False(t, c.Banned("anyone"))

	c.Replace(map[string]Level{"1": LevelBanned, "2": LevelAdmin}, time.Unix(5, 0))
	assert.True(t, c.Banned("1"))
	assert.True(t, c.Admin("2"))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, time.Unix(5, 0), c.Snapshot().Loaded)
}

func TestSQLSource_LoadAndSet(t *testing.T) {
	ctx := context.Background()
	src := openDB(t)

	require.NoError(t, src.Set(ctx, "10", LevelBanned))
	require.NoError(t, src.Set(ctx, "11", LevelAdmin))
	require.NoError(t, src.Set(ctx, "10", LevelUser))
	assert.Error(t, src.Set(ctx, "12", Level("root")))

	levels, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]Level{"10": LevelUser, "11": LevelAdmin}, levels)

	require.NoError(t, src.Remove(ctx, "11"))
	levels, err = src.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, levels, 1)
}

func TestSQLSource_SkipsUnknownLevels(t *testing.T) {
	ctx := context.Background()
	src := openDB(t)
	_, err := src.db.ExecContext(ctx, `INSERT INTO permissions (user_id, level) VALUES ('x', 'superuser')`)
	require.NoError(t, err)
	require.NoError(t, src.Set(ctx, "y", LevelBanned))

	levels, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]Level{"y": LevelBanned}, levels)
}

type flakySource struct {
	calls  atomic.Int32
	levels map[string]Level
	fail   atomic.Bool
}

func (f *flakySource) Load(context.Context) (map[string]Level, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("database locked")
	}
	return f.levels, nil
}

func TestSyncer_KeepsStaleSnapshotOnFailure(t *testing.T) {
	ctx := context.Background()
	src := &flakySource{levels: map[string]Level{"1": LevelBanned}}
	cache := NewCache()
	s := NewSyncer(src, cache, time.Minute)

	require.NoError(t, s.Sync(ctx))
	assert.True(t, cache.Banned("1"))

	src.fail.Store(true)
	assert.Error(t, s.Sync(ctx))
	assert.True(t, cache.Banned("1"), "stale data survives a failed refresh")
}

func TestSyncer_RunRefreshesOnInterval(t *testing.T) {
	src := &flakySource{levels: map[string]Level{}}
	s := NewSyncer(src, NewCache(), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("syncer did not stop")
	}
}

func TestSyncer_MirrorsToRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	rc := redis.NewCache(client)

	db := openDB(t)
	require.NoError(t, db.Set(ctx, "99", LevelBanned))
	require.NoError(t, NewSyncer(db, NewCache(), time.Minute).MirrorTo(rc).Sync(ctx))

	// A worker without database access reads the mirrored snapshot.
	workerCache := NewCache()
	require.NoError(t, NewSyncer(NewRedisSource(rc), workerCache, time.Minute).Sync(ctx))
	assert.True(t, workerCache.Banned("99"))
}

func TestRedisSource_NoSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewRedisSource(redis.NewCache(client)).Load(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
