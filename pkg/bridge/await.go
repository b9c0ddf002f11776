// Package bridge turns one asynchronous transport completion into the result
// of a blocking call.
package bridge

import (
	"context"
	"net/http"
	"sync"

	"github.com/Sternrassler/okquery/pkg/credentials"
	"github.com/Sternrassler/okquery/pkg/logging"
	"github.com/Sternrassler/okquery/pkg/transport"
)

type result struct {
	resp *http.Response
	err  error
}

// Await submits req to t and blocks until the first completion of the call or
// until ctx is done, whichever happens first.
//
// Only the first completion is observed. Responses delivered by later
// completions have their bodies closed. When ctx is done first the call is
// cancelled, ctx.Err() is returned and any response that still arrives is
// closed unread.
//
// The request is submitted under ctx. A credential token attached to the
// request's own context is carried over unchanged.
func Await(ctx context.Context, t transport.Transport, req *http.Request) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := make(chan result, 1)
	var (
		once      sync.Once
		mu        sync.Mutex
		abandoned bool
	)

	submitCtx := ctx
	if tok, ok := credentials.Lookup(req.Context()); ok {
		submitCtx = credentials.WithToken(ctx, tok)
	}

	call := t.Submit(req.WithContext(submitCtx), func(resp *http.Response, err error) {
		delivered := false
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			if abandoned {
				return
			}
			ch <- result{resp: resp, err: err}
			delivered = true
		})
		if !delivered {
			discard(resp)
		}
	})

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		call.Cancel()

		mu.Lock()
		abandoned = true
		mu.Unlock()

		// A completion that won the race is dropped here.
		select {
		case r := <-ch:
			discard(r.resp)
		default:
		}
		return nil, ctx.Err()
	}
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	resp.Body.Close()

	logger := logging.NewLogger("bridge")
	logger.Debug().Str("status", resp.Status).Msg("Discarded unobserved response")
}
