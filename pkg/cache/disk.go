package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// DefaultDiskMaxBytes bounds the on-disk cache when no limit is configured.
const DefaultDiskMaxBytes = 64 << 20

// DiskStore is a Store persisted in a SQLite file, so cached responses
// survive process restarts without a Redis server.
type DiskStore struct {
	db             *sql.DB
	maxBytes       int64
	staleRetention time.Duration
}

var _ Store = (*DiskStore)(nil)

const diskSchema = `
CREATE TABLE IF NOT EXISTS responses (
	key      TEXT PRIMARY KEY,
	entry    BLOB NOT NULL,
	size     INTEGER NOT NULL,
	deadline INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS responses_deadline ON responses (deadline);
`

// NewDiskStore opens (creating if needed) the cache database at path.
// maxBytes <= 0 uses DefaultDiskMaxBytes.
func NewDiskStore(path string, maxBytes int64) (*DiskStore, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultDiskMaxBytes
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(diskSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DiskStore{
		db:             db,
		maxBytes:       maxBytes,
		staleRetention: DefaultStaleRetention,
	}, nil
}

// Get retrieves a cache entry by key.
func (s *DiskStore) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	var (
		data     []byte
		deadline int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT entry, deadline FROM responses WHERE key = ?`, key.String()).Scan(&data, &deadline)
	if errors.Is(err, sql.ErrNoRows) {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("sqlite get: %w", err)
	}

	if time.Now().UnixMilli() > deadline {
		_ = s.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	return decodeEntry(data, "disk")
}

// Set stores a cache entry and evicts the entries closest to expiry while the
// store exceeds its size limit.
func (s *DiskStore) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	ttl := storageTTL(entry, s.staleRetention)
	if ttl <= 0 {
		return nil
	}
	if int64(len(data)) > s.maxBytes {
		return nil
	}

	deadline := time.Now().Add(ttl).UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO responses (key, entry, size, deadline) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET entry = excluded.entry, size = excluded.size, deadline = excluded.deadline`,
		key.String(), data, len(data), deadline)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("sqlite set: %w", err)
	}

	CacheBytesWritten.WithLabelValues("disk").Add(float64(len(data)))

	return s.evict(ctx)
}

// evict drops expired rows, then the rows nearest their deadline until the
// total size fits.
func (s *DiskStore) evict(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE deadline < ?`, time.Now().UnixMilli()); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("sqlite evict: %w", err)
	}

	for {
		var total int64
		if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM responses`).Scan(&total); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			return fmt.Errorf("sqlite size: %w", err)
		}
		if total <= s.maxBytes {
			return nil
		}

		res, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE key = (SELECT key FROM responses ORDER BY deadline ASC LIMIT 1)`)
		if err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			return fmt.Errorf("sqlite evict: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
	}
}

// Delete removes a cache entry.
func (s *DiskStore) Delete(ctx context.Context, key CacheKey) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE key = ?`, key.String()); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// UpdateTTL updates the expiry of an existing cache entry.
func (s *DiskStore) UpdateTTL(ctx context.Context, key CacheKey, newExpires time.Time) error {
	return refresh(ctx, s, key, newExpires)
}

// Size returns the total stored bytes.
func (s *DiskStore) Size(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM responses`).Scan(&total)
	return total, err
}

// Close releases the database.
func (s *DiskStore) Close() error {
	return s.db.Close()
}
