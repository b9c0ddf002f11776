package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sternrassler/okquery/pkg/codec"
)

// ErrorClass represents the kind of a failed query.
type ErrorClass string

const (
	// ErrorClassTransport represents network/IO errors before a response was obtained.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassHTTP represents responses with a status outside 200-299.
	ErrorClassHTTP ErrorClass = "http"

	// ErrorClassDecode represents bodies that do not match the expected structure.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassCancelled represents caller-initiated cancellation.
	// It is not a user-visible failure.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassLookup represents a missing key in a QueryMapValue path.
	ErrorClassLookup ErrorClass = "lookup"
)

// Error is the single error type returned by query operations.
// Exactly one class is assigned to every failure.
type Error struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	URL        string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Class))
	b.WriteString(" error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Classify returns the class of err, or "" for nil.
//
// Errors that did not come from this package are classified by inspection:
// context.Canceled is a cancellation, *codec.DecodeError a decode failure and
// everything else a transport failure.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var qerr *Error
	if errors.As(err, &qerr) {
		return qerr.Class
	}

	var derr *codec.DecodeError
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorClassCancelled
	case errors.As(err, &derr):
		return ErrorClassDecode
	default:
		return ErrorClassTransport
	}
}

// IsCancelled reports whether err is a cancellation rather than a failure.
func IsCancelled(err error) bool {
	return Classify(err) == ErrorClassCancelled
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var qerr *Error
	if errors.As(err, &qerr) {
		return qerr.StatusCode
	}
	return 0
}

// submitError wraps an error raised before a response was obtained.
func submitError(err error, url string) *Error {
	class := ErrorClassTransport
	if errors.Is(err, context.Canceled) {
		class = ErrorClassCancelled
	}
	return &Error{Class: class, URL: url, Err: err}
}

// httpFailure builds the HTTP failure for an unsuccessful response whose body
// has already been drained.
func httpFailure(resp *http.Response, body []byte, url string) *Error {
	msg := string(body)
	if len(body) == 0 {
		msg = fmt.Sprintf("%d %s", resp.StatusCode, reasonPhrase(resp))
	}
	return &Error{
		Class:      ErrorClassHTTP,
		StatusCode: resp.StatusCode,
		Message:    msg,
		URL:        url,
	}
}

// reasonPhrase extracts the reason text from the status line, falling back to
// the standard text for the code.
func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}
