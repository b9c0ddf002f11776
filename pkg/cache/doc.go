// Package cache provides the transport response cache.
//
// The cache sits inside the transport, below the query layer. The query
// layer never reads it directly; it only benefits from it, and warmup
// requests exist purely to fill it.
//
// - Freshness from Cache-Control max-age, falling back to Expires
// - ETag support for conditional requests (If-None-Match)
// - Last-Modified support (If-Modified-Since)
// - Stale entries with validators are retained for revalidation
// - Redis backend shared between processes, SQLite file backend that survives
//   restarts (size bounded), in-memory backend for a single process
// - Prometheus metrics for observability
// - Deterministic cache key generation, separated by credential token
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager
//	manager := cache.NewManager(redisClient)
//
//	// Key the request
//	key := cache.KeyForRequest(req)
//
//	// Get from cache
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Cache miss - fetch from the network
//	}
//
// # HTTP Response Caching
//
//	if cache.Cacheable(resp) {
//		entry, err := cache.ResponseToEntry(resp)
//		if err != nil {
//			return err
//		}
//		if err := manager.Set(ctx, key, entry); err != nil {
//			return err
//		}
//	}
//
// # Conditional Requests
//
//	if entry.IsExpired() && cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//		// The server answers 304 if the entry is still current
//	}
//
// # Metrics
//
//   - okquery_cache_hits_total{layer} - Cache hits
//   - okquery_cache_misses_total - Cache misses
//   - okquery_cache_bytes_written_total{layer} - Entry bytes written
//   - okquery_304_responses_total - Conditional request successes
//   - okquery_conditional_requests_total - Conditional requests sent
//   - okquery_cache_errors_total{operation} - Cache operation errors
package cache
