// Package client provides the query executor: blocking request/response calls
// on top of a callback-driven transport, response classification and JSON
// decoding of bodies.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sternrassler/okquery/pkg/bridge"
	"github.com/Sternrassler/okquery/pkg/codec"
	"github.com/Sternrassler/okquery/pkg/credentials"
	"github.com/Sternrassler/okquery/pkg/logging"
	"github.com/Sternrassler/okquery/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for query operations.
var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "okquery_queries_total",
		Help: "Total executed queries by outcome class",
	}, []string{"class"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "okquery_query_duration_seconds",
		Help:    "Time from submission until the response status is known",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	decodeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "okquery_decode_failures_total",
		Help: "Total response bodies that did not match the expected structure",
	})

	warmupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "okquery_warmups_total",
		Help: "Total warmup requests submitted",
	})
)

// Client executes queries through a shared transport.
type Client struct {
	transport transport.Transport
	codec     *codec.Registry
	logger    zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Transport submits requests (REQUIRED)
	Transport transport.Transport

	// Codec decodes bodies; nil uses codec.Default
	Codec *codec.Registry
}

// New creates a new query client.
func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	reg := cfg.Codec
	if reg == nil {
		reg = codec.Default
	}

	return &Client{
		transport: cfg.Transport,
		codec:     reg,
		logger:    logging.NewLogger("query-client"),
	}, nil
}

// Codec returns the registry used to decode bodies.
func (c *Client) Codec() *codec.Registry {
	return c.codec
}

// Execute submits req and waits for its response.
//
// A status outside 200-299 is returned as an *Error of class http whose
// message is the body text, or "<code> <reason>" when the body is empty; the
// body is drained and closed in that case. On success the response is returned
// with its body open and the caller must close it.
func (c *Client) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	url := req.URL.String()

	startTime := time.Now()
	resp, err := bridge.Await(ctx, c.transport, req)
	queryDuration.Observe(time.Since(startTime).Seconds())

	if err != nil {
		qerr := submitError(err, url)
		c.record(qerr)
		return nil, qerr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		qerr := httpFailure(resp, body, url)
		if readErr != nil && ctx.Err() != nil {
			qerr = submitError(ctx.Err(), url)
		}
		c.record(qerr)
		return nil, qerr
	}

	c.record(nil)
	c.logger.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Msg("Query succeeded")
	return resp, nil
}

type drained struct {
	body []byte
	err  error
}

// QueryForString executes req and returns the whole body as text.
//
// The body is read on a separate goroutine. If ctx is done first, the body is
// closed and a cancellation error is returned.
func (c *Client) QueryForString(ctx context.Context, req *http.Request) (string, error) {
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return "", err
	}

	ch := make(chan drained, 1)
	go func() {
		body, err := io.ReadAll(resp.Body)
		ch <- drained{body: body, err: err}
	}()

	select {
	case d := <-ch:
		resp.Body.Close()
		if d.err != nil {
			qerr := submitError(d.err, req.URL.String())
			if ctx.Err() != nil {
				qerr = submitError(ctx.Err(), req.URL.String())
			}
			c.record(qerr)
			return "", qerr
		}
		return string(d.body), nil
	case <-ctx.Done():
		resp.Body.Close()
		qerr := submitError(ctx.Err(), req.URL.String())
		c.record(qerr)
		return "", qerr
	}
}

// Show executes req and copies the successful body to w.
func (c *Client) Show(ctx context.Context, req *http.Request, w io.Writer) error {
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		if ctx.Err() != nil {
			return submitError(ctx.Err(), req.URL.String())
		}
		return submitError(err, req.URL.String())
	}
	return nil
}

// Warmup submits a GET for every URL and returns without waiting.
//
// Outcomes are discarded and any response body is closed unread; the only
// effect is priming the transport's response cache. Requests carry the
// credential token of ctx but are not cancelled with it. Invalid URLs are
// skipped.
func (c *Client) Warmup(ctx context.Context, urls ...string) {
	tok := credentials.FromContext(ctx)
	base := context.WithoutCancel(ctx)

	for _, u := range urls {
		req, err := NewRequest(base, u, tok)
		if err != nil {
			c.logger.Debug().Err(err).Str("url", u).Msg("Skipping warmup of invalid URL")
			continue
		}

		c.transport.Submit(req, func(resp *http.Response, err error) {
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
		})
		warmupsTotal.Inc()
	}

	c.logger.Debug().Int("count", len(urls)).Msg("Warmup submitted")
}

// decodeFailure wraps a codec error for req.
func (c *Client) decodeFailure(req *http.Request, err error) *Error {
	decodeFailuresTotal.Inc()
	qerr := &Error{Class: ErrorClassDecode, URL: req.URL.String(), Err: err}
	c.record(qerr)
	return qerr
}

// record counts an outcome and logs failures.
func (c *Client) record(err *Error) {
	if err == nil {
		queriesTotal.WithLabelValues("ok").Inc()
		return
	}

	queriesTotal.WithLabelValues(string(err.Class)).Inc()

	ev := c.logger.Debug()
	if err.Class == ErrorClassTransport || err.Class == ErrorClassHTTP {
		ev = c.logger.Warn()
	}
	ev.Str("url", err.URL).
		Str("error_class", string(err.Class)).
		Int("status", err.StatusCode).
		Err(err.Err).
		Msg("Query failed")
}
