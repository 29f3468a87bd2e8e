package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// KV exposes the kv_entries table as a kv.Store.
type KV struct {
	db *sql.DB
}

func (s *SQLiteStore) KV() *KV {
	return &KV{db: s.db}
}

func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := k.db.QueryRowContext(ctx, "SELECT value FROM kv_entries WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, true, nil
}

func (k *KV) Set(ctx context.Context, key, value string) error {
	_, err := k.db.ExecContext(ctx, `
        INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// IncrBy adds delta in a single statement so concurrent callers never lose
// an increment.
func (k *KV) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	var v string
	err := k.db.QueryRowContext(ctx, `
        INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT (key) DO UPDATE
            SET value = CAST(CAST(kv_entries.value AS INTEGER) + CAST(excluded.value AS INTEGER) AS TEXT),
                updated_at = CURRENT_TIMESTAMP
        RETURNING value`, key, strconv.FormatInt(delta, 10)).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return strconv.ParseInt(v, 10, 64)
}

func (k *KV) Delete(ctx context.Context, key string) error {
	if _, err := k.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
