package shortterm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetWorking stores a working-memory value under key. ttl <= 0 means no
// expiry. contextID is an optional tag tying the key to a session or agent.
func (s *Store) SetWorking(ctx context.Context, key, value, contextID string, ttl time.Duration) error {
	var expiresAt *int64
	if ttl > 0 {
		exp := time.Now().Add(ttl).Unix()
		expiresAt = &exp
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO working_memory (key, value, context_id, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			context_id = excluded.context_id, expires_at = excluded.expires_at`,
		key, value, nullable(contextID), expiresAt)
	if err != nil {
		return fmt.Errorf("set working %q: %w", key, err)
	}
	return nil
}

// GetWorking reads a working-memory value. An expired row is a miss; the row
// itself is left for PurgeExpired.
func (s *Store) GetWorking(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM working_memory WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get working %q: %w", key, err)
	}
	if expiresAt.Valid && expiresAt.Int64 <= time.Now().Unix() {
		return "", false, nil
	}
	return value, true, nil
}

// DeleteWorking removes a working-memory key.
func (s *Store) DeleteWorking(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM working_memory WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete working %q: %w", key, err)
	}
	return nil
}

// TrimWorking enforces the working-memory capacity bound: when more than max
// rows exist, the ones expiring soonest (then oldest by insertion) are
// deleted. Returns the number of rows evicted.
func (s *Store) TrimWorking(ctx context.Context, max int64) (int64, error) {
	if max <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM working_memory WHERE key IN (
			SELECT key FROM working_memory
			ORDER BY expires_at IS NULL, expires_at ASC, rowid ASC
			LIMIT (SELECT MAX(COUNT(*) - ?, 0) FROM working_memory)
		)`, max)
	if err != nil {
		return 0, fmt.Errorf("trim working memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CacheSet stores a value in the generic kv cache. ttl <= 0 keeps it until
// explicitly replaced.
func (s *Store) CacheSet(ctx context.Context, key, value string, ttl time.Duration) error {
	ttlSeconds := int64(0)
	if ttl > 0 {
		ttlSeconds = int64(ttl / time.Second)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_cache (key, value, ttl_seconds, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			ttl_seconds = excluded.ttl_seconds, created_at = excluded.created_at`,
		key, value, ttlSeconds, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// CacheGet reads from the kv cache with lazy expiry.
func (s *Store) CacheGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	var ttlSeconds, createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, ttl_seconds, created_at FROM kv_cache WHERE key = ?`, key).
		Scan(&value, &ttlSeconds, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %q: %w", key, err)
	}
	if ttlSeconds > 0 && createdAt+ttlSeconds <= time.Now().Unix() {
		return "", false, nil
	}
	return value, true, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
