package cache

import (
	"net/http"
	"time"
)

// CacheEntry is a stored response together with what is needed to decide
// whether it may be served as is or has to be revalidated first.
type CacheEntry struct {
	Data       []byte      `json:"data"`
	StatusCode int         `json:"status_code"`
	Status     string      `json:"status"`
	Headers    http.Header `json:"headers"`

	// Validators sent back as If-None-Match / If-Modified-Since once stale
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`

	// Expires ends freshness; CachedAt records when the response was stored
	Expires  time.Time `json:"expires"`
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired reports whether the entry must be revalidated before use.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL is the remaining freshness, never negative.
func (e *CacheEntry) TTL() time.Duration {
	return max(time.Until(e.Expires), 0)
}

// Revalidatable reports whether a stale entry carries a validator, so a
// conditional request can refresh it instead of a full fetch.
func (e *CacheEntry) Revalidatable() bool {
	return ShouldMakeConditionalRequest(e)
}
