package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/okquery/pkg/codec"
	"github.com/Sternrassler/okquery/pkg/logging"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocket is an open WebSocket subscription.
type WebSocket struct {
	conn    *websocket.Conn
	reg     *codec.Registry
	writeMu sync.Mutex
	closing atomic.Bool
	done    chan struct{}
	logger  zerolog.Logger
}

// DialWebSocket opens a WebSocket to rawURL and dispatches every incoming
// message, decoded into T, to l on a background goroutine.
//
// A failed handshake is returned as an error. Once open, failures are only
// reported to l.
func DialWebSocket[T any](ctx context.Context, rawURL string, header http.Header, l Listener[T], reg *codec.Registry) (*WebSocket, error) {
	if reg == nil {
		reg = codec.Default
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (status %s)", rawURL, err, resp.Status)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", rawURL, err)
	}

	ws := &WebSocket{
		conn:   conn,
		reg:    reg,
		done:   make(chan struct{}),
		logger: logging.NewLogger("events"),
	}

	l.OnOpen(resp)
	go readLoop(ws, l)

	return ws, nil
}

func readLoop[T any](ws *WebSocket, l Listener[T]) {
	defer close(ws.done)

	for {
		mt, data, err := ws.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if ws.closing.Load() || (errors.As(err, &closeErr) &&
				(closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway)) {
				l.OnClosed()
			} else {
				l.OnFailure(err, nil)
			}
			return
		}

		kind := "text"
		if mt == websocket.BinaryMessage {
			kind = "binary"
		}

		v, err := decodePayload[T](ws.reg, string(data))
		if err != nil {
			ws.logger.Debug().Err(err).Msg("Undecodable websocket message")
			l.OnFailure(err, nil)
			continue
		}
		l.OnEvent(Event[T]{Type: kind, Data: v, Raw: string(data)})
	}
}

// Send writes v as a JSON text message.
func (ws *WebSocket) Send(v any) error {
	data, err := codec.Encode(ws.reg, v)
	if err != nil {
		return err
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

// SendText writes s as a text message without encoding it.
func (ws *WebSocket) SendText(s string) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	return ws.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

// Close performs the closing handshake and waits for the read loop to finish.
// The listener receives OnClosed.
func (ws *WebSocket) Close() error {
	if !ws.closing.CompareAndSwap(false, true) {
		<-ws.done
		return nil
	}

	ws.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	ws.writeMu.Unlock()

	select {
	case <-ws.done:
		// Read loop finished, the handshake is complete or moot.
		err = nil
	case <-time.After(time.Second):
	}

	ws.conn.Close()
	<-ws.done
	return err
}

// Done is closed once the listener has received its final notification.
func (ws *WebSocket) Done() <-chan struct{} {
	return ws.done
}
