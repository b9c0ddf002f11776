// Package events adapts server-pushed event streams (server-sent events and
// WebSocket messages) into typed callbacks.
//
// Stream failures are reported to the Listener as notifications. They are
// never returned to the caller, since a broken stream is not necessarily the
// caller's failure.
package events

import (
	"net/http"

	"github.com/Sternrassler/okquery/pkg/codec"
	"github.com/Sternrassler/okquery/pkg/logging"
	"github.com/rs/zerolog"
)

// Event is one decoded message.
type Event[T any] struct {
	// ID is the last event id seen on the stream (SSE only)
	ID string

	// Type is the SSE event name ("message" by default), or "text"/"binary" for WebSocket frames
	Type string

	// Data is the decoded payload
	Data T

	// Raw is the payload before decoding
	Raw string
}

// Listener receives stream notifications.
type Listener[T any] interface {
	OnOpen(resp *http.Response)
	OnEvent(ev Event[T])
	OnFailure(err error, resp *http.Response)
	OnClosed()
}

// messageHandler hands payloads to a function and logs everything else.
type messageHandler[T any] struct {
	fn     func(T)
	logger zerolog.Logger
}

// MessageHandler returns a Listener that passes each decoded payload to fn.
// Open, close and failure notifications are logged.
func MessageHandler[T any](fn func(T)) Listener[T] {
	return &messageHandler[T]{
		fn:     fn,
		logger: logging.NewLogger("events"),
	}
}

func (h *messageHandler[T]) OnOpen(resp *http.Response) {
	ev := h.logger.Info()
	if resp != nil {
		ev = ev.Int("status", resp.StatusCode)
		if resp.Request != nil {
			ev = ev.Str("url", resp.Request.URL.String())
		}
	}
	ev.Msg("Event stream opened")
}

func (h *messageHandler[T]) OnEvent(ev Event[T]) {
	h.fn(ev.Data)
}

func (h *messageHandler[T]) OnFailure(err error, resp *http.Response) {
	ev := h.logger.Warn().Err(err)
	if resp != nil {
		ev = ev.Int("status", resp.StatusCode)
	}
	ev.Msg("Event stream failed")
}

func (h *messageHandler[T]) OnClosed() {
	h.logger.Info().Msg("Event stream closed")
}

// decodePayload decodes raw into a T. String targets receive the raw text.
func decodePayload[T any](reg *codec.Registry, raw string) (T, error) {
	var out T
	if p, ok := any(&out).(*string); ok {
		*p = raw
		return out, nil
	}
	return codec.DecodeString[T](reg, raw)
}
