package pagination

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/Sternrassler/okquery/pkg/client"
	"github.com/Sternrassler/okquery/pkg/credentials"
	"github.com/Sternrassler/okquery/pkg/logging"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "okquery_pagination_pages_total",
		Help: "Pages fetched by continuation kind",
	}, []string{"kind"})

	paginationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "okquery_pagination_runs_total",
		Help: "Pagination runs by outcome class",
	}, []string{"outcome"})
)

// Config holds pagination configuration
type Config struct {
	// PageLimit caps the number of pages returned; <= 0 means unlimited
	PageLimit int

	// MaxConcurrency bounds parallel fetches within a Rest batch; <= 0 fetches the whole batch at once
	MaxConcurrency int

	// Token tags every page request
	Token credentials.Token
}

// DefaultConfig returns an unlimited configuration using the default credential.
func DefaultConfig() Config {
	return Config{
		PageLimit:      0,
		MaxConcurrency: 0,
		Token:          credentials.DefaultToken,
	}
}

// fetcher decodes single pages for one QueryPages run.
type fetcher[T any] struct {
	client      *client.Client
	token       credentials.Token
	concurrency int
	logger      zerolog.Logger
}

func (f *fetcher[T]) fetch(ctx context.Context, pageURL string) (T, error) {
	var zero T

	req, err := client.NewRequest(ctx, pageURL, f.token)
	if err != nil {
		return zero, fmt.Errorf("page %s: %w", pageURL, err)
	}
	return client.Query[T](ctx, f.client, req)
}

// QueryPages fetches the page at startURL and keeps fetching as directed by
// next, returning the decoded pages in order.
//
// Next states are followed one at a time. A Rest state fetches
// min(limit - fetched, len(URLs)) pages concurrently, appends them in URL
// order whatever the completion order, and ends pagination. Relative URLs are
// resolved against the page that produced them.
//
// The first failure aborts the run: in-flight fetches of the same batch are
// cancelled and no partial result is returned.
func QueryPages[T any](ctx context.Context, c *client.Client, startURL string, next Paginator[T], cfg Config) ([]T, error) {
	start := time.Now()

	limit := cfg.PageLimit
	if limit <= 0 {
		limit = math.MaxInt
	}

	f := &fetcher[T]{
		client:      c,
		token:       cfg.Token,
		concurrency: cfg.MaxConcurrency,
		logger: logging.NewLogger("pagination").With().
			Str("query_id", uuid.NewString()).
			Logger(),
	}

	pages, err := f.run(ctx, startURL, next, limit)
	if err != nil {
		paginationRunsTotal.WithLabelValues(string(client.Classify(err))).Inc()
		f.logger.Debug().
			Err(err).
			Int("pages", len(pages)).
			Msg("Pagination aborted")
		return nil, err
	}

	paginationRunsTotal.WithLabelValues("ok").Inc()
	f.logger.Info().
		Str("url", startURL).
		Int("pages", len(pages)).
		Dur("duration", time.Since(start)).
		Msg("Pagination finished")
	return pages, nil
}

func (f *fetcher[T]) run(ctx context.Context, startURL string, next Paginator[T], limit int) ([]T, error) {
	first, err := f.fetch(ctx, startURL)
	if err != nil {
		return nil, err
	}
	pagesFetchedTotal.WithLabelValues("first").Inc()

	pages := []T{first}
	base := startURL
	state := next(first)

	for len(pages) < limit {
		switch s := state.(type) {
		case Next:
			pageURL := resolve(base, s.URL)
			f.logger.Debug().
				Int("page", len(pages)).
				Str("url", pageURL).
				Msg("Fetching next page")

			page, err := f.fetch(ctx, pageURL)
			if err != nil {
				return pages, err
			}
			pagesFetchedTotal.WithLabelValues("next").Inc()

			pages = append(pages, page)
			base = pageURL
			state = next(page)

		case Rest:
			n := min(limit-len(pages), len(s.URLs))
			batch, err := f.fetchBatch(ctx, base, s.URLs[:n], len(pages))
			if err != nil {
				return pages, err
			}
			return append(pages, batch...), nil

		default:
			// End, or nil
			return pages, nil
		}
	}

	return pages, nil
}

// fetchBatch fetches urls concurrently and returns the pages in URL order.
func (f *fetcher[T]) fetchBatch(ctx context.Context, base string, urls []string, offset int) ([]T, error) {
	f.logger.Debug().
		Int("batch_size", len(urls)).
		Int("page", offset).
		Msg("Fetching rest batch")

	batch := make([]T, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	if f.concurrency > 0 {
		g.SetLimit(f.concurrency)
	}

	for i, u := range urls {
		pageURL := resolve(base, u)
		g.Go(func() error {
			page, err := f.fetch(gctx, pageURL)
			if err != nil {
				f.logger.Debug().
					Err(err).
					Int("page", offset+i).
					Str("url", pageURL).
					Msg("Page fetch failed")
				return err
			}
			batch[i] = page
			pagesFetchedTotal.WithLabelValues("rest").Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batch, nil
}

// resolve interprets ref relative to base. Unparseable input is returned as is
// so the request builder reports it.
func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
