package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/Sternrassler/okquery/pkg/client"
	"github.com/Sternrassler/okquery/pkg/credentials"
	"github.com/Sternrassler/okquery/pkg/events"
	"github.com/Sternrassler/okquery/pkg/logging"
	"github.com/Sternrassler/okquery/pkg/transport"
	"github.com/rs/zerolog"
)

// printer writes every event payload as one line and keeps the first failure.
type printer struct {
	w      io.Writer
	logger zerolog.Logger

	mu  sync.Mutex
	err error
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, logger: logging.NewLogger("okquery")}
}

func (p *printer) OnOpen(resp *http.Response) {
	if resp != nil {
		p.logger.Debug().Int("status", resp.StatusCode).Msg("Subscribed")
	}
}

func (p *printer) OnEvent(ev events.Event[string]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, ev.Data)
}

func (p *printer) OnFailure(err error, resp *http.Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	if resp != nil {
		err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
	}
	p.err = err
}

func (p *printer) OnClosed() {
	p.logger.Debug().Msg("Subscription closed")
}

func (p *printer) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// subscribeSSE prints the events of rawURL until the stream ends or ctx is done.
func subscribeSSE(ctx context.Context, t transport.Transport, rawURL string, tok credentials.Token, stdout io.Writer) error {
	req, err := client.NewRequest(ctx, rawURL, tok)
	if err != nil {
		return err
	}

	p := newPrinter(stdout)
	es := events.NewEventSource[string](ctx, t, req, p, nil)

	select {
	case <-es.Done():
		return p.failure()
	case <-ctx.Done():
		es.Cancel()
		<-es.Done()
		return ctx.Err()
	}
}

// subscribeWebSocket prints the messages of rawURL until the server closes the
// connection or ctx is done.
func subscribeWebSocket(ctx context.Context, rawURL string, stdout io.Writer) error {
	p := newPrinter(stdout)
	ws, err := events.DialWebSocket[string](ctx, rawURL, nil, p, nil)
	if err != nil {
		return err
	}

	select {
	case <-ws.Done():
		ws.Close()
		return p.failure()
	case <-ctx.Done():
		ws.Close()
		return ctx.Err()
	}
}
