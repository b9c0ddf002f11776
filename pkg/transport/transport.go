// Package transport provides the callback-driven HTTP transport that the query
// layer submits requests to.
//
// A Transport accepts a request and a completion callback and returns
// immediately with a cancellable Call. The callback is invoked once the
// exchange completes, either with a response (whose body the receiver must
// read or close) or with an error.
package transport

import (
	"errors"
	"net/http"
)

// ErrTransportClosed is delivered to callbacks of requests submitted after Close.
var ErrTransportClosed = errors.New("transport closed")

// Callback receives the outcome of a submitted request.
// Exactly one of resp and err is non-nil.
type Callback func(resp *http.Response, err error)

// Call is a handle on a submitted request.
type Call interface {
	// Cancel aborts the exchange if it is still in flight.
	Cancel()

	// Canceled reports whether Cancel was called.
	Canceled() bool
}

// Transport submits requests asynchronously.
// Implementations must be safe for concurrent use.
type Transport interface {
	Submit(req *http.Request, done Callback) Call
}
