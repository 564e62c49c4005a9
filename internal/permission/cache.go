// Package permission keeps a read-mostly cache of per-user permission levels,
// refreshed on a fixed interval from the system of record. Readers see the
// last complete snapshot; stale data is tolerated between refreshes.
package permission

import (
	"sync/atomic"
	"time"
)

// Level is a user's permission level.
type Level string

const (
	LevelBanned Level = "banned"
	LevelUser   Level = "user"
	LevelAdmin  Level = "admin"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelBanned, LevelUser, LevelAdmin:
		return true
	}
	return false
}

// Snapshot is an immutable view of all explicit levels.
type Snapshot struct {
	Levels map[string]Level `json:"levels"`
	Loaded time.Time        `json:"loaded"`
}

// Cache serves lookups from an atomically swapped snapshot.
type Cache struct {
	snap atomic.Pointer[Snapshot]
}

// NewCache creates an empty cache; every user is LevelUser until the first
// snapshot arrives.
func NewCache() *Cache {
	c := &Cache{}
	c.snap.Store(&Snapshot{Levels: map[string]Level{}})
	return c
}

// Replace installs a new snapshot. levels must not be modified afterwards.
func (c *Cache) Replace(levels map[string]Level, loaded time.Time) {
	c.snap.Store(&Snapshot{Levels: levels, Loaded: loaded})
}

// Snapshot returns the current snapshot.
func (c *Cache) Snapshot() *Snapshot { return c.snap.Load() }

// Level returns userID's level, LevelUser when not listed.
func (c *Cache) Level(userID string) Level {
	if l, ok := c.snap.Load().Levels[userID]; ok {
		return l
	}
	return LevelUser
}

// Banned reports whether userID is banned.
func (c *Cache) Banned(userID string) bool { return c.Level(userID) == LevelBanned }

// Admin reports whether userID is an admin.
func (c *Cache) Admin(userID string) bool { return c.Level(userID) == LevelAdmin }

// Len returns the number of users with an explicit level.
func (c *Cache) Len() int { return len(c.snap.Load().Levels) }
