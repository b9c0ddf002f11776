package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Sternrassler/okquery/pkg/codec"
)

// Query executes req and decodes the body into a T.
func Query[T any](ctx context.Context, c *Client, req *http.Request) (T, error) {
	var zero T

	body, err := c.QueryForString(ctx, req)
	if err != nil {
		return zero, err
	}

	v, err := codec.DecodeString[T](c.codec, body)
	if err != nil {
		return zero, c.decodeFailure(req, err)
	}
	return v, nil
}

// QueryMap executes req and decodes the body as an object of V values.
func QueryMap[V any](ctx context.Context, c *Client, req *http.Request) (map[string]V, error) {
	return Query[map[string]V](ctx, c, req)
}

// QueryList executes req and decodes the body as an array of V values.
func QueryList[V any](ctx context.Context, c *Client, req *http.Request) ([]V, error) {
	return Query[[]V](ctx, c, req)
}

// QueryOptionalMap is QueryMap for optional top-level sections: when the body
// is not an object (an array or null, for example) it reports false instead
// of failing. Transport, HTTP and cancellation errors are still returned.
func QueryOptionalMap[V any](ctx context.Context, c *Client, req *http.Request) (map[string]V, bool, error) {
	body, err := c.QueryForString(ctx, req)
	if err != nil {
		return nil, false, err
	}

	m, err := codec.DecodeString[map[string]V](c.codec, body)
	if err != nil || m == nil {
		c.logger.Debug().Str("url", req.URL.String()).Msg("Optional section absent")
		return nil, false, nil
	}
	return m, true, nil
}

// QueryMapValue executes req, walks the nested objects named by keys and
// decodes the value found at the end into a T.
//
// A missing key, or an intermediate value that is not an object, is a lookup
// failure. With no keys the whole body is decoded.
func QueryMapValue[T any](ctx context.Context, c *Client, req *http.Request, keys ...string) (T, error) {
	var zero T

	body, err := c.QueryForString(ctx, req)
	if err != nil {
		return zero, err
	}

	raw := json.RawMessage(body)
	for i, key := range keys {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return zero, c.lookupFailure(req, keys[:i], "not an object")
		}

		next, ok := obj[key]
		if !ok {
			return zero, c.lookupFailure(req, keys[:i+1], "missing key")
		}
		raw = next
	}

	v, err := codec.Decode[T](c.codec, raw)
	if err != nil {
		return zero, c.decodeFailure(req, err)
	}
	return v, nil
}

func (c *Client) lookupFailure(req *http.Request, path []string, reason string) *Error {
	where := strings.Join(path, ".")
	if where == "" {
		where = "<root>"
	}

	qerr := &Error{
		Class:   ErrorClassLookup,
		Message: fmt.Sprintf("%s %s", reason, where),
		URL:     req.URL.String(),
	}
	c.record(qerr)
	return qerr
}
