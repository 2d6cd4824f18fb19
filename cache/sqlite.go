package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sievelabs/sieve/dbopen"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at) WHERE expires_at > 0;
`

// SQLiteStore is a RemoteStore backed by an SQLite database. It models the
// out-of-process key/value tier: durable across restarts and shared between
// processes on the same host.
type SQLiteStore struct {
	db    *sql.DB
	now   func() time.Time
	ready atomic.Bool
}

// SQLiteOption configures an SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock sets a custom clock (for testing TTL expiry).
func WithSQLiteClock(fn func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) { s.now = fn }
}

// OpenSQLiteStore opens (and creates if needed) the key/value store at path.
func OpenSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(kvSchema))
	if err != nil {
		return nil, fmt.Errorf("cache: open kv store: %w", err)
	}
	return NewSQLiteStore(db, opts...), nil
}

// NewSQLiteStore wraps an existing database handle. The kv schema must
// already exist.
func NewSQLiteStore(db *sql.DB, opts ...SQLiteOption) *SQLiteStore {
	s := &SQLiteStore{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.ready.Store(true)
	return s
}

// Get returns the stored bytes for key. Expired rows are deleted lazily and
// reported as absent.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: kv get: %w", err)
	}
	if expiresAt > 0 && s.now().UnixMilli() >= expiresAt {
		_, _ = dbopen.Exec(ctx, s.db, `DELETE FROM kv WHERE key = ?`, key)
		return nil, false, nil
	}
	return value, true, nil
}

// Set upserts key with an absolute expiry computed from ttl. Zero ttl
// stores without expiry.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("cache: kv set: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: kv delete: %w", err)
	}
	return nil
}

// Clear removes every key.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM kv`); err != nil {
		return fmt.Errorf("cache: kv clear: %w", err)
	}
	return nil
}

// Prune deletes expired rows eagerly. Intended for a periodic maintenance
// call; Get already handles expiry lazily.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	res, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM kv WHERE expires_at > 0 AND expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: kv prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Ready reports whether the store accepts calls.
func (s *SQLiteStore) Ready() bool { return s.ready.Load() }

// Close marks the store unready and closes the database.
func (s *SQLiteStore) Close() error {
	s.ready.Store(false)
	return s.db.Close()
}
