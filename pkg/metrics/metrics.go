// Package metrics exposes the Prometheus metrics of the query client.
// All metrics are defined in their respective packages (transport, cache,
// client, pagination) to maintain modularity and avoid circular dependencies.
//
// This package provides the HTTP exposition and reference for all available metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/okquery/pkg/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by okquery.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Router returns the routes served by Serve: GET /metrics and GET /health.
func Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", Handler())
	r.Get("/health", healthHandler)
	return r
}

// Serve exposes Router on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger := logging.NewLogger("metrics")
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Metrics Documentation
//
// Transport Metrics (pkg/transport):
//   - okquery_transport_requests_total{host, status} (Counter): Exchanges by host and outcome (status code, cache, network_error)
//   - okquery_transport_request_duration_seconds{host} (Histogram): Exchange duration by host
//   - okquery_transport_inflight (Gauge): Exchanges submitted and not yet completed
//
// Cache Metrics (pkg/cache):
//   - okquery_cache_hits_total{layer} (Counter): Cache hits by layer (memory, redis, disk)
//   - okquery_cache_misses_total (Counter): Cache misses
//   - okquery_cache_bytes_written_total{layer} (Counter): Entry bytes written to the cache
//   - okquery_304_responses_total (Counter): 304 Not Modified responses
//   - okquery_conditional_requests_total (Counter): Conditional requests sent
//   - okquery_cache_errors_total{operation} (Counter): Cache operation errors
//
// Query Metrics (pkg/client):
//   - okquery_queries_total{class} (Counter): Queries by outcome (ok, transport, http, decode, cancelled, lookup)
//   - okquery_query_duration_seconds (Histogram): Time until the response status is known
//   - okquery_decode_failures_total (Counter): Bodies that did not match the expected structure
//   - okquery_warmups_total (Counter): Warmup requests submitted
//
// Pagination Metrics (pkg/pagination):
//   - okquery_pagination_pages_total{kind} (Counter): Pages fetched by continuation kind (first, next, rest)
//   - okquery_pagination_runs_total{outcome} (Counter): Pagination runs by outcome
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(okquery_cache_hits_total[5m])) /
//   (sum(rate(okquery_cache_hits_total[5m])) + sum(rate(okquery_cache_misses_total[5m])))
//
//   # Query Error Rate
//   sum(rate(okquery_queries_total{class!="ok"}[5m])) / sum(rate(okquery_queries_total[5m]))
//
//   # P95 Query Latency
//   histogram_quantile(0.95, rate(okquery_query_duration_seconds_bucket[5m]))
//
//   # 304 Response Rate
//   rate(okquery_304_responses_total[5m]) / rate(okquery_transport_requests_total[5m])
