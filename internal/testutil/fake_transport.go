package testutil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/Sternrassler/okquery/pkg/transport"
)

// FakeCall is the handle returned by FakeTransport.
type FakeCall struct {
	canceled atomic.Bool
	done     transport.Callback
	req      *http.Request
}

// Cancel marks the call as canceled.
func (c *FakeCall) Cancel() {
	c.canceled.Store(true)
}

// Canceled reports whether Cancel was called.
func (c *FakeCall) Canceled() bool {
	return c.canceled.Load()
}

// Request returns the submitted request.
func (c *FakeCall) Request() *http.Request {
	return c.req
}

// Complete invokes the call's callback. It may be called any number of times,
// which is how tests simulate transports that complete more than once.
func (c *FakeCall) Complete(resp *http.Response, err error) {
	c.done(resp, err)
}

// FakeTransport records submissions and leaves completion to the test.
type FakeTransport struct {
	mu        sync.Mutex
	calls     []*FakeCall
	submitted chan *FakeCall

	// OnSubmit, when set, runs synchronously inside Submit.
	OnSubmit func(call *FakeCall)
}

var _ transport.Transport = (*FakeTransport)(nil)

// NewFakeTransport creates a fake transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{submitted: make(chan *FakeCall, 64)}
}

// Submit records the call and returns immediately.
func (f *FakeTransport) Submit(req *http.Request, done transport.Callback) transport.Call {
	call := &FakeCall{done: done, req: req}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.OnSubmit != nil {
		f.OnSubmit(call)
	}

	select {
	case f.submitted <- call:
	default:
	}
	return call
}

// Submitted returns a channel receiving each submitted call.
func (f *FakeTransport) Submitted() <-chan *FakeCall {
	return f.submitted
}

// Calls returns all calls submitted so far.
func (f *FakeTransport) Calls() []*FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// TrackingBody is a response body that records whether it was read or closed.
type TrackingBody struct {
	r      io.Reader
	read   atomic.Bool
	closed atomic.Int32
}

// NewTrackingBody wraps s.
func NewTrackingBody(s string) *TrackingBody {
	return &TrackingBody{r: bytes.NewReader([]byte(s))}
}

// Read implements io.Reader.
func (b *TrackingBody) Read(p []byte) (int, error) {
	b.read.Store(true)
	return b.r.Read(p)
}

// Close implements io.Closer.
func (b *TrackingBody) Close() error {
	b.closed.Add(1)
	return nil
}

// WasRead reports whether Read was ever called.
func (b *TrackingBody) WasRead() bool {
	return b.read.Load()
}

// CloseCount returns how many times Close was called.
func (b *TrackingBody) CloseCount() int {
	return int(b.closed.Load())
}

// NewResponse builds a response with a tracking body.
func NewResponse(status int, body string) (*http.Response, *TrackingBody) {
	tb := NewTrackingBody(body)
	return &http.Response{
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       tb,
	}, tb
}
