package events

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/okquery/pkg/codec"
	"github.com/Sternrassler/okquery/pkg/logging"
	"github.com/Sternrassler/okquery/pkg/transport"
	"github.com/rs/zerolog"
)

// ErrNotEventStream is reported when a response is not a text/event-stream.
var ErrNotEventStream = errors.New("response is not an event stream")

// RawEvent is a server-sent event before payload decoding.
type RawEvent struct {
	ID    string
	Type  string
	Data  string
	Retry time.Duration
}

// Parser reads server-sent events from a stream.
type Parser struct {
	r      *bufio.Reader
	lastID string
	retry  time.Duration
}

// NewParser creates a parser reading from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReader(r)}
}

// Next returns the next complete event. It returns io.EOF when the stream ends;
// a trailing event without its terminating blank line is dropped.
func (p *Parser) Next() (RawEvent, error) {
	var (
		data      strings.Builder
		hasData   bool
		eventType string
	)

	for {
		line, err := p.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return RawEvent{}, err
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		if line == "" {
			if !hasData {
				eventType = ""
				continue
			}
			if eventType == "" {
				eventType = "message"
			}
			return RawEvent{ID: p.lastID, Type: eventType, Data: data.String(), Retry: p.retry}, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			eventType = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				p.lastID = value
			}
		case "retry":
			if ms, convErr := strconv.Atoi(value); convErr == nil && ms >= 0 {
				p.retry = time.Duration(ms) * time.Millisecond
			}
		}

		if err == io.EOF {
			return RawEvent{}, io.EOF
		}
	}
}

// ProcessResponse reads an already obtained response as an event stream and
// dispatches to l until the stream ends. The body is always closed.
func ProcessResponse[T any](resp *http.Response, l Listener[T], reg *codec.Registry) {
	process(resp, l, reg, func() bool { return false })
}

func process[T any](resp *http.Response, l Listener[T], reg *codec.Registry, canceled func() bool) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		l.OnFailure(fmt.Errorf("unexpected status %s", resp.Status), resp)
		return
	}
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mediaType != "text/event-stream" {
		l.OnFailure(fmt.Errorf("%w: content type %q", ErrNotEventStream, resp.Header.Get("Content-Type")), resp)
		return
	}

	l.OnOpen(resp)

	parser := NewParser(resp.Body)
	for {
		raw, err := parser.Next()
		if err != nil {
			if err == io.EOF || canceled() {
				l.OnClosed()
			} else {
				l.OnFailure(err, resp)
			}
			return
		}

		v, err := decodePayload[T](reg, raw.Data)
		if err != nil {
			l.OnFailure(err, resp)
			continue
		}
		l.OnEvent(Event[T]{ID: raw.ID, Type: raw.Type, Data: v, Raw: raw.Data})
	}
}

// EventSource is a running server-sent event subscription.
type EventSource struct {
	call     transport.Call
	canceled atomic.Bool
	done     chan struct{}
	once     sync.Once
	logger   zerolog.Logger
}

// NewEventSource submits req through t and dispatches the resulting stream to
// l on a background goroutine. It returns immediately.
//
// Cancelling ctx ends the subscription like Cancel: the listener receives
// OnClosed, not a failure.
func NewEventSource[T any](ctx context.Context, t transport.Transport, req *http.Request, l Listener[T], reg *codec.Registry) *EventSource {
	es := &EventSource{
		done:   make(chan struct{}),
		logger: logging.NewLogger("events"),
	}

	req = req.Clone(ctx)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	es.logger.Debug().Str("url", req.URL.String()).Msg("Opening event stream")

	stopped := func() bool {
		return es.canceled.Load() || ctx.Err() != nil
	}

	es.call = t.Submit(req, func(resp *http.Response, err error) {
		if err != nil {
			if stopped() {
				l.OnClosed()
			} else {
				l.OnFailure(err, nil)
			}
			es.finish()
			return
		}

		go func() {
			defer es.finish()
			process(resp, l, reg, stopped)
		}()
	})

	return es
}

func (es *EventSource) finish() {
	es.once.Do(func() { close(es.done) })
}

// Cancel stops the subscription. The listener receives OnClosed.
func (es *EventSource) Cancel() {
	es.canceled.Store(true)
	es.call.Cancel()
}

// Done is closed once the listener has received its final notification.
func (es *EventSource) Done() <-chan struct{} {
	return es.done
}
