package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. Entries are kept as encoded JSON so
// callers never share mutable state with the cache.
type MemoryStore struct {
	mu             sync.RWMutex
	entries        map[string]memoryItem
	staleRetention time.Duration
}

type memoryItem struct {
	data     []byte
	deadline time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:        make(map[string]memoryItem),
		staleRetention: DefaultStaleRetention,
	}
}

// Get retrieves a cache entry by key.
func (s *MemoryStore) Get(_ context.Context, key CacheKey) (*CacheEntry, error) {
	k := key.String()

	s.mu.RLock()
	item, ok := s.entries[k]
	s.mu.RUnlock()

	if !ok || time.Now().After(item.deadline) {
		if ok {
			s.mu.Lock()
			delete(s.entries, k)
			s.mu.Unlock()
		}
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	return decodeEntry(item.data, "memory")
}

// Set stores a cache entry.
func (s *MemoryStore) Set(_ context.Context, key CacheKey, entry *CacheEntry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	ttl := storageTTL(entry, s.staleRetention)
	if ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	s.entries[key.String()] = memoryItem{data: data, deadline: time.Now().Add(ttl)}
	s.mu.Unlock()

	CacheBytesWritten.WithLabelValues("memory").Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (s *MemoryStore) Delete(_ context.Context, key CacheKey) error {
	s.mu.Lock()
	delete(s.entries, key.String())
	s.mu.Unlock()
	return nil
}

// UpdateTTL updates the expiry of an existing cache entry.
func (s *MemoryStore) UpdateTTL(ctx context.Context, key CacheKey, newExpires time.Time) error {
	return refresh(ctx, s, key, newExpires)
}

// Len returns the number of stored entries, including stale ones.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
