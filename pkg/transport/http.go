package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/okquery/pkg/cache"
	"github.com/Sternrassler/okquery/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Config holds the HTTP transport configuration.
type Config struct {
	// User-Agent header sent when the request does not set one
	UserAgent string

	// Timeout bounds a whole exchange, including reading the body
	Timeout time.Duration

	// MaxConcurrency is the number of exchanges allowed on the wire at once
	MaxConcurrency int

	// Cache stores GET responses; nil disables caching
	Cache cache.Store

	// HTTPClient overrides the underlying client (for testing); Timeout is ignored when set
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:      userAgent,
		Timeout:        30 * time.Second,
		MaxConcurrency: 16,
	}
}

// HTTPTransport is the net/http backed Transport. It is long-lived, shared by
// all queries, and must be closed at process shutdown.
type HTTPTransport struct {
	client *http.Client
	cache  cache.Store
	sem    *semaphore.Weighted
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

var _ Transport = (*HTTPTransport)(nil)

// New creates a new HTTP transport.
func New(cfg Config) (*HTTPTransport, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("max_concurrency must be > 0 (got %d)", cfg.MaxConcurrency)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
		}
	}

	return &HTTPTransport{
		client: httpClient,
		cache:  cfg.Cache,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		config: cfg,
		logger: logging.NewLogger("transport"),
	}, nil
}

// httpCall is the Call handle returned by HTTPTransport.
type httpCall struct {
	cancel   context.CancelFunc
	canceled atomic.Bool
}

func (c *httpCall) Cancel() {
	c.canceled.Store(true)
	c.cancel()
}

func (c *httpCall) Canceled() bool {
	return c.canceled.Load()
}

// cancelOnClose releases the exchange context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Submit starts the exchange on a background goroutine and returns at once.
// done is invoked exactly once.
func (t *HTTPTransport) Submit(req *http.Request, done Callback) Call {
	ctx, cancel := context.WithCancel(req.Context())
	call := &httpCall{cancel: cancel}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		go done(nil, ErrTransportClosed)
		return call
	}
	t.inflight.Add(1)
	t.mu.Unlock()

	transportInflight.Inc()

	go func() {
		defer t.inflight.Done()
		defer transportInflight.Dec()

		if err := t.sem.Acquire(ctx, 1); err != nil {
			cancel()
			done(nil, err)
			return
		}
		resp, err := t.roundTrip(ctx, req.Clone(ctx))
		t.sem.Release(1)

		if err != nil {
			cancel()
			done(nil, err)
			return
		}

		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		done(resp, nil)
	}()

	return call
}

// roundTrip performs one exchange, consulting the response cache for GET requests.
func (t *HTTPTransport) roundTrip(ctx context.Context, req *http.Request) (*http.Response, error) {
	host := req.URL.Host

	startTime := time.Now()
	defer func() {
		transportRequestDuration.WithLabelValues(host).Observe(time.Since(startTime).Seconds())
	}()

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	useCache := t.cache != nil && req.Method == http.MethodGet
	var key cache.CacheKey
	var stale *cache.CacheEntry

	if useCache {
		key = cache.KeyForRequest(req)

		entry, err := t.cache.Get(ctx, key)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			t.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Cache get error")
		}

		if entry != nil {
			if !entry.IsExpired() {
				t.logger.Debug().Str("url", req.URL.String()).Msg("Serving response from cache")
				transportRequestsTotal.WithLabelValues(host, "cache").Inc()
				return cache.EntryToResponse(entry, req), nil
			}
			if cache.ShouldMakeConditionalRequest(entry) {
				cache.AddConditionalHeaders(req, entry)
				cache.ConditionalRequestsSent.Inc()
				stale = entry
				t.logger.Debug().
					Str("url", req.URL.String()).
					Str("etag", entry.ETag).
					Msg("Making conditional request")
			}
		}
	}

	t.logger.Debug().
		Str("url", req.URL.String()).
		Str("method", req.Method).
		Msg("Executing request")

	resp, err := t.client.Do(req)
	if err != nil {
		transportRequestsTotal.WithLabelValues(host, "network_error").Inc()
		t.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("HTTP request failed")
		return nil, err
	}

	transportRequestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotModified && stale != nil {
		resp.Body.Close()
		cache.NotModifiedResponses.Inc()

		newExpires := cache.ExpiresFromHeaders(resp.Header)
		if err := t.cache.UpdateTTL(ctx, key, newExpires); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to update cache TTL")
		}
		stale.Expires = newExpires

		t.logger.Debug().Str("url", req.URL.String()).Msg("304 Not Modified - using cache")
		return cache.EntryToResponse(stale, req), nil
	}

	if useCache && cache.Cacheable(resp) {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		if err := t.cache.Set(ctx, key, entry); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			t.logger.Debug().
				Str("url", req.URL.String()).
				Dur("ttl", entry.TTL()).
				Msg("Cached response")
		}
	}

	return resp, nil
}

// Close stops accepting requests, waits for in-flight exchanges to deliver
// their callbacks and releases idle connections.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.inflight.Wait()
	t.client.CloseIdleConnections()

	t.logger.Debug().Msg("Transport closed")
	return nil
}

// Cache returns the response cache, or nil when caching is disabled.
func (t *HTTPTransport) Cache() cache.Store {
	return t.cache
}
