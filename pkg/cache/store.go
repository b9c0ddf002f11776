package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheMiss is returned when no usable entry exists for a key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry is returned when a stored entry cannot be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultStaleRetention is how long an expired entry with validators is kept
// so it can be revalidated with a conditional request.
const DefaultStaleRetention = 24 * time.Hour

// Store is the backend used by the transport to keep responses.
//
// Get returns fresh entries and stale entries that can still be revalidated;
// callers check IsExpired. Entries that are expired and carry no validators
// are reported as ErrCacheMiss.
type Store interface {
	Get(ctx context.Context, key CacheKey) (*CacheEntry, error)
	Set(ctx context.Context, key CacheKey, entry *CacheEntry) error
	Delete(ctx context.Context, key CacheKey) error
	UpdateTTL(ctx context.Context, key CacheKey, newExpires time.Time) error
}

// storageTTL is how long a backend keeps entry: its freshness lifetime, plus
// the stale retention window when it can be revalidated.
func storageTTL(entry *CacheEntry, staleRetention time.Duration) time.Duration {
	ttl := entry.TTL()
	if entry.Revalidatable() {
		ttl += staleRetention
	}
	return ttl
}

func encodeEntry(entry *CacheEntry) ([]byte, error) {
	if entry == nil {
		return nil, fmt.Errorf("cache entry cannot be nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

// decodeEntry decodes a stored entry and records the lookup for layer.
// Entries past expiry without validators are misses.
func decodeEntry(data []byte, layer string) (*CacheEntry, error) {
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() && !entry.Revalidatable() {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(layer).Inc()
	return &entry, nil
}

// refresh rewrites the entry under key with a new expiry.
func refresh(ctx context.Context, s Store, key CacheKey, newExpires time.Time) error {
	entry, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	entry.Expires = newExpires
	return s.Set(ctx, key, entry)
}
