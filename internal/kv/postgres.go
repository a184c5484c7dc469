package kv

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore is a Store backed by a single kv_entries table. TTL is an
// expires_at column filtered on read; expired rows are deleted opportunistically.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresStore returns a Store over db. timeout bounds every call;
// zero means no per-call bound beyond the caller's context.
func NewPostgresStore(db *sql.DB, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout}
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Get returns the value for key if present and not expired. An expired row is
// removed best-effort before reporting the key as absent.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var value []byte
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_entries WHERE key = $1`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !expiresAt.After(time.Now().UTC()) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1 AND expires_at <= now()`, key)
		return nil, false, nil
	}
	return value, true, nil
}

// Set upserts value under key until now+ttl.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, time.Now().UTC().Add(ttl))
	return err
}

// Delete removes key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, key)
	return err
}
