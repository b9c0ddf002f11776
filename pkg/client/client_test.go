package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/okquery/internal/testutil"
	"github.com/Sternrassler/okquery/pkg/cache"
	"github.com/Sternrassler/okquery/pkg/credentials"
	"github.com/Sternrassler/okquery/pkg/transport"
)

// setupHTTPClient creates a client over a real transport talking to mock.
func setupHTTPClient(t *testing.T, mock *testutil.MockService, store cache.Store) *Client {
	t.Helper()

	cfg := transport.DefaultConfig("okquery-test/1.0")
	cfg.HTTPClient = mock.Client()
	cfg.Cache = store

	tr, err := transport.New(cfg)
	if err != nil {
		t.Fatalf("transport.New() error = %v", err)
	}
	t.Cleanup(func() { tr.Close() })

	c, err := New(Config{Transport: tr})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

// respondWith completes every submitted call with resp on another goroutine.
func respondWith(resp *http.Response, err error) *testutil.FakeTransport {
	ft := testutil.NewFakeTransport()
	ft.OnSubmit = func(call *testutil.FakeCall) {
		go call.Complete(resp, err)
	}
	return ft
}

func mustRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := NewRequest(context.Background(), url, credentials.DefaultToken)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	return req
}

func mustClient(t *testing.T, tr transport.Transport) *Client {
	t.Helper()
	c, err := New(Config{Transport: tr})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil || err.Error() != "transport is required" {
		t.Errorf("New() error = %v, want transport is required", err)
	}

	c, err := New(Config{Transport: testutil.NewFakeTransport()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Codec() == nil {
		t.Error("Codec() = nil, want default registry")
	}
}

func TestExecute_Success(t *testing.T) {
	resp, body := testutil.NewResponse(http.StatusOK, `{"ok":true}`)
	c := mustClient(t, respondWith(resp, nil))

	got, err := c.Execute(context.Background(), mustRequest(t, "http://example.test/ok"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if body.CloseCount() != 0 || body.WasRead() {
		t.Error("successful body must be handed back unread and open")
	}
	got.Body.Close()
}

func TestExecute_KeepsRequestToken(t *testing.T) {
	resp, _ := testutil.NewResponse(http.StatusOK, `{}`)
	ft := respondWith(resp, nil)
	c := mustClient(t, ft)

	req, err := NewRequest(context.Background(), "http://example.test/me", credentials.Named("reader"))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	got, err := c.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	got.Body.Close()

	if tok := credentials.FromRequest(ft.Calls()[0].Request()); tok != credentials.Named("reader") {
		t.Errorf("transport saw token %v, want reader", tok)
	}
}

func TestExecute_HTTPFailure(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{
			name:        "body becomes message",
			status:      http.StatusNotFound,
			body:        `{"message":"Not Found"}`,
			wantMessage: `{"message":"Not Found"}`,
		},
		{
			name:        "empty body synthesizes status line",
			status:      http.StatusServiceUnavailable,
			body:        "",
			wantMessage: "503 Service Unavailable",
		},
		{
			name:        "redirect status is not success",
			status:      http.StatusNotModified,
			body:        "",
			wantMessage: "304 Not Modified",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := testutil.NewResponse(tt.status, tt.body)
			c := mustClient(t, respondWith(resp, nil))

			_, err := c.Execute(context.Background(), mustRequest(t, "http://example.test/x"))

			var qerr *Error
			if !errors.As(err, &qerr) {
				t.Fatalf("Execute() error = %v, want *Error", err)
			}
			if qerr.Class != ErrorClassHTTP {
				t.Errorf("Class = %q, want http", qerr.Class)
			}
			if qerr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", qerr.StatusCode, tt.status)
			}
			if qerr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", qerr.Message, tt.wantMessage)
			}
			if body.CloseCount() != 1 {
				t.Errorf("error body closed %d times, want 1", body.CloseCount())
			}
		})
	}
}

func TestExecute_CancelWhileDrainingFailureBody(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()

	flushed := make(chan struct{})
	mock.SetHandler("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		close(flushed)
		<-r.Context().Done()
	})
	c := setupHTTPClient(t, mock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-flushed
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	req := mustRequest(t, mock.URL()+"/broken")
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Execute(ctx, req)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if got := Classify(err); got != ErrorClassCancelled {
			t.Errorf("Classify(%v) = %q, want cancelled", err, got)
		}
		if StatusCode(err) != 0 {
			t.Errorf("StatusCode() = %d, want 0 for a cancellation", StatusCode(err))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}

func TestExecute_TransportFailure(t *testing.T) {
	netErr := errors.New("connection refused")
	c := mustClient(t, respondWith(nil, netErr))

	_, err := c.Execute(context.Background(), mustRequest(t, "http://example.test/x"))
	if Classify(err) != ErrorClassTransport {
		t.Errorf("Classify() = %q, want transport", Classify(err))
	}
	if !errors.Is(err, netErr) {
		t.Error("transport error should wrap the cause")
	}
}

func TestExecute_CancelBeforeCompletion(t *testing.T) {
	ft := testutil.NewFakeTransport()
	c := mustClient(t, ft)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Execute(ctx, mustRequest(t, "http://example.test/slow"))
		errCh <- err
	}()

	call := <-ft.Submitted()
	cancel()

	select {
	case err := <-errCh:
		if !IsCancelled(err) {
			t.Errorf("Execute() error = %v, want cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
	if !call.Canceled() {
		t.Error("underlying call not cancelled")
	}
}

func TestExecute_DuplicateCompletion(t *testing.T) {
	first, _ := testutil.NewResponse(http.StatusOK, "first")
	second, secondBody := testutil.NewResponse(http.StatusInternalServerError, "second")

	ft := testutil.NewFakeTransport()
	ft.OnSubmit = func(call *testutil.FakeCall) {
		call.Complete(first, nil)
		call.Complete(second, nil)
	}
	c := mustClient(t, ft)

	s, err := c.QueryForString(context.Background(), mustRequest(t, "http://example.test/x"))
	if err != nil {
		t.Fatalf("QueryForString() error = %v", err)
	}
	if s != "first" {
		t.Errorf("QueryForString() = %q, want first", s)
	}
	if secondBody.CloseCount() != 1 {
		t.Error("duplicate response body must be closed")
	}
}

func TestQueryForString(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetJSON("/text", `{"hello":"world"}`)

	c := setupHTTPClient(t, mock, nil)

	s, err := c.QueryForString(context.Background(), mustRequest(t, mock.URL()+"/text"))
	if err != nil {
		t.Fatalf("QueryForString() error = %v", err)
	}
	if s != `{"hello":"world"}` {
		t.Errorf("QueryForString() = %q", s)
	}
}

func TestQueryForString_CancelDuringDrain(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	resp := &http.Response{Status: "200 OK", StatusCode: http.StatusOK, Header: http.Header{}, Body: pr}
	c := mustClient(t, respondWith(resp, nil))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.QueryForString(ctx, mustRequest(t, "http://example.test/stream"))
		errCh <- err
	}()

	// Part of the body arrives, the rest never does.
	if _, err := pw.Write([]byte(`{"partial":`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	cancel()

	select {
	case err := <-errCh:
		if !IsCancelled(err) {
			t.Errorf("QueryForString() error = %v, want cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("QueryForString did not return after cancellation")
	}

	if _, err := pw.Write([]byte("x")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("body not closed after cancellation: write error = %v", err)
	}
}

type repo struct {
	Name  string `json:"name"`
	Stars int    `json:"stars"`
}

func TestQuery_Typed(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetJSON("/repo", `{"name":"okhttp","stars":42}`)
	mock.SetJSON("/bad", `{"name":17}`)

	c := setupHTTPClient(t, mock, nil)

	got, err := Query[repo](context.Background(), c, mustRequest(t, mock.URL()+"/repo"))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got != (repo{Name: "okhttp", Stars: 42}) {
		t.Errorf("Query() = %+v", got)
	}

	_, err = Query[repo](context.Background(), c, mustRequest(t, mock.URL()+"/bad"))
	if Classify(err) != ErrorClassDecode {
		t.Errorf("Classify() = %q, want decode (err = %v)", Classify(err), err)
	}
}

func TestQuery_HTTPFailureNotDecoded(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetResponse("/missing", testutil.NewEmptyErrorResponse(http.StatusNotFound))

	c := setupHTTPClient(t, mock, nil)

	_, err := Query[repo](context.Background(), c, mustRequest(t, mock.URL()+"/missing"))
	var qerr *Error
	if !errors.As(err, &qerr) || qerr.Class != ErrorClassHTTP {
		t.Fatalf("Query() error = %v, want http error", err)
	}
	if qerr.Message != "404 Not Found" {
		t.Errorf("Message = %q, want 404 Not Found", qerr.Message)
	}
}

func TestQueryMapAndList(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetJSON("/map", `{"a":1,"b":2}`)
	mock.SetJSON("/list", `["x","y","z"]`)

	c := setupHTTPClient(t, mock, nil)
	ctx := context.Background()

	m, err := QueryMap[int](ctx, c, mustRequest(t, mock.URL()+"/map"))
	if err != nil {
		t.Fatalf("QueryMap() error = %v", err)
	}
	if len(m) != 2 || m["a"] != 1 || m["b"] != 2 {
		t.Errorf("QueryMap() = %v", m)
	}

	l, err := QueryList[string](ctx, c, mustRequest(t, mock.URL()+"/list"))
	if err != nil {
		t.Fatalf("QueryList() error = %v", err)
	}
	if strings.Join(l, ",") != "x,y,z" {
		t.Errorf("QueryList() = %v", l)
	}

	// An object is not a list.
	_, err = QueryList[string](ctx, c, mustRequest(t, mock.URL()+"/map"))
	if Classify(err) != ErrorClassDecode {
		t.Errorf("Classify() = %q, want decode", Classify(err))
	}
}

func TestQueryOptionalMap(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetJSON("/object", `{"k":"v"}`)
	mock.SetJSON("/array", `[1,2,3]`)
	mock.SetJSON("/null", `null`)
	mock.SetResponse("/error", testutil.NewErrorResponse(http.StatusForbidden, "forbidden"))

	c := setupHTTPClient(t, mock, nil)
	ctx := context.Background()

	tests := []struct {
		name        string
		path        string
		wantPresent bool
		wantClass   ErrorClass
	}{
		{name: "object is present", path: "/object", wantPresent: true},
		{name: "array is absent", path: "/array", wantPresent: false},
		{name: "null is absent", path: "/null", wantPresent: false},
		{name: "http failure still raised", path: "/error", wantClass: ErrorClassHTTP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok, err := QueryOptionalMap[string](ctx, c, mustRequest(t, mock.URL()+tt.path))
			if Classify(err) != tt.wantClass {
				t.Fatalf("error = %v, want class %q", err, tt.wantClass)
			}
			if ok != tt.wantPresent {
				t.Errorf("present = %v, want %v", ok, tt.wantPresent)
			}
			if ok && m["k"] != "v" {
				t.Errorf("map = %v", m)
			}
			if !ok && m != nil {
				t.Errorf("absent map should be nil, got %v", m)
			}
		})
	}
}

func TestQueryMapValue(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetJSON("/found", `{"a":{"b":5}}`)
	mock.SetJSON("/missing", `{"a":{}}`)
	mock.SetJSON("/scalar", `{"a":3}`)

	c := setupHTTPClient(t, mock, nil)
	ctx := context.Background()

	v, err := QueryMapValue[int](ctx, c, mustRequest(t, mock.URL()+"/found"), "a", "b")
	if err != nil {
		t.Fatalf("QueryMapValue() error = %v", err)
	}
	if v != 5 {
		t.Errorf("QueryMapValue() = %d, want 5", v)
	}

	_, err = QueryMapValue[int](ctx, c, mustRequest(t, mock.URL()+"/missing"), "a", "b")
	var qerr *Error
	if !errors.As(err, &qerr) || qerr.Class != ErrorClassLookup {
		t.Fatalf("QueryMapValue() error = %v, want lookup failure", err)
	}
	if qerr.Message != "missing key a.b" {
		t.Errorf("Message = %q", qerr.Message)
	}

	_, err = QueryMapValue[int](ctx, c, mustRequest(t, mock.URL()+"/scalar"), "a", "b")
	if Classify(err) != ErrorClassLookup {
		t.Errorf("Classify() = %q, want lookup for non-object intermediate", Classify(err))
	}

	_, err = QueryMapValue[string](ctx, c, mustRequest(t, mock.URL()+"/found"), "a", "b")
	if Classify(err) != ErrorClassDecode {
		t.Errorf("Classify() = %q, want decode for wrong leaf type", Classify(err))
	}
}

func TestShow(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetJSON("/show", `{"shown":true}`)

	c := setupHTTPClient(t, mock, nil)

	var buf bytes.Buffer
	if err := c.Show(context.Background(), mustRequest(t, mock.URL()+"/show"), &buf); err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	if buf.String() != `{"shown":true}` {
		t.Errorf("output = %q", buf.String())
	}
}

func TestWarmup_NeverBlocks(t *testing.T) {
	ft := testutil.NewFakeTransport()
	c := mustClient(t, ft)

	done := make(chan struct{})
	go func() {
		c.Warmup(context.Background(), "http://example.test/a", "http://example.test/b", "://bad")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Warmup blocked waiting for completion")
	}

	calls := ft.Calls()
	if len(calls) != 2 {
		t.Fatalf("submitted %d calls, want 2 (invalid URL skipped)", len(calls))
	}

	// Completions after Warmup returned are discarded and their bodies closed unread.
	resp, body := testutil.NewResponse(http.StatusOK, "primed")
	calls[0].Complete(resp, nil)
	calls[1].Complete(nil, errors.New("unreachable"))

	if body.WasRead() {
		t.Error("warmup body must not be read")
	}
	if body.CloseCount() != 1 {
		t.Errorf("warmup body closed %d times, want 1", body.CloseCount())
	}
}

func TestWarmup_KeepsToken(t *testing.T) {
	ft := testutil.NewFakeTransport()
	c := mustClient(t, ft)

	ctx := credentials.WithToken(context.Background(), credentials.Named("ci"))
	c.Warmup(ctx, "http://example.test/a")

	call := ft.Calls()[0]
	if got := credentials.FromRequest(call.Request()); got != credentials.Named("ci") {
		t.Errorf("token = %v, want ci", got)
	}
	if call.Request().Method != http.MethodGet {
		t.Errorf("method = %s, want GET", call.Request().Method)
	}
}

func TestWarmup_PrimesTransportCache(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	mock.SetResponse("/primed", testutil.NewCacheableResponse(`{"warm":true}`, `"w1"`, time.Minute))

	store := cache.NewMemoryStore()
	c := setupHTTPClient(t, mock, store)

	c.Warmup(context.Background(), mock.URL()+"/primed")

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("warmup did not populate the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s, err := c.QueryForString(context.Background(), mustRequest(t, mock.URL()+"/primed"))
	if err != nil {
		t.Fatalf("QueryForString() error = %v", err)
	}
	if s != `{"warm":true}` {
		t.Errorf("QueryForString() = %q", s)
	}
	if got := mock.GetPathCount("/primed"); got != 1 {
		t.Errorf("network requests = %d, want 1 (served from primed cache)", got)
	}
}
