package permission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/dayuer/botgate/internal/redis"
)

// Source loads the full permission table.
type Source interface {
	Load(ctx context.Context) (map[string]Level, error)
}

// SQLSource reads levels from a SQLite table permissions(user_id, level).
type SQLSource struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the permission database at path.
func OpenSQLite(path string) (*SQLSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS permissions (
			user_id TEXT PRIMARY KEY,
			level TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &SQLSource{db: db}, nil
}

// Close closes the database.
func (s *SQLSource) Close() error { return s.db.Close() }

// Load implements Source. Rows with unknown levels are skipped.
func (s *SQLSource) Load(ctx context.Context) (map[string]Level, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, level FROM permissions`)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	levels := make(map[string]Level)
	for rows.Next() {
		var user, level string
		if err := rows.Scan(&user, &level); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		l := Level(level)
		if !l.Valid() {
			log.Printf("[Permission] ⚠️ Skipping %s: unknown level %q", user, level)
			continue
		}
		levels[user] = l
	}
	return levels, rows.Err()
}

// Set upserts userID's level.
func (s *SQLSource) Set(ctx context.Context, userID string, level Level) error {
	if !level.Valid() {
		return fmt.Errorf("unknown level %q", level)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (user_id, level) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET level = excluded.level
	`, userID, string(level))
	return err
}

// Remove deletes userID's explicit level.
func (s *SQLSource) Remove(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE user_id = ?`, userID)
	return err
}

// ErrNoSnapshot is returned by RedisSource when no snapshot was published.
var ErrNoSnapshot = errors.New("no permission snapshot published")

// RedisSource reads the snapshot a database-attached process mirrored into
// Redis, for workers that have no direct database access.
type RedisSource struct {
	cache *redis.Cache
}

// NewRedisSource creates a source over cache.
func NewRedisSource(cache *redis.Cache) *RedisSource {
	return &RedisSource{cache: cache}
}

// Load implements Source.
func (s *RedisSource) Load(ctx context.Context) (map[string]Level, error) {
	var snap Snapshot
	if !s.cache.GetJSON(ctx, redis.KeyPermissions, &snap) {
		return nil, ErrNoSnapshot
	}
	if snap.Levels == nil {
		snap.Levels = map[string]Level{}
	}
	return snap.Levels, nil
}
