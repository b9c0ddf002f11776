package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/okquery/pkg/codec"
	"github.com/Sternrassler/okquery/pkg/credentials"
)

// NewRequest builds a GET request for rawURL tagged with tok.
func NewRequest(ctx context.Context, rawURL string, tok credentials.Token) (*http.Request, error) {
	req, err := http.NewRequestWithContext(credentials.WithToken(ctx, tok), http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

// JSONPostRequest builds a POST request whose body is body encoded as JSON.
func JSONPostRequest(ctx context.Context, rawURL string, body any, tok credentials.Token) (*http.Request, error) {
	data, err := codec.Encode(codec.Default, body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(credentials.WithToken(ctx, tok), http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// FormRequest builds a POST request with a form-encoded body.
func FormRequest(ctx context.Context, rawURL string, form url.Values, tok credentials.Token) (*http.Request, error) {
	req, err := http.NewRequestWithContext(credentials.WithToken(ctx, tok), http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// EditRequest returns a copy of req modified by fn. The credential token and
// context of req are preserved unless fn replaces them.
func EditRequest(req *http.Request, fn func(r *http.Request)) *http.Request {
	out := req.Clone(req.Context())
	if fn != nil {
		fn(out)
	}
	return out
}
