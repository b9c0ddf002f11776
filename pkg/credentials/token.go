// Package credentials defines the opaque credential tag carried by outgoing requests.
//
// Tokens are acquired, renewed and applied by an external collaborator (an
// authenticating http.RoundTripper, for example). The query layer only carries
// them along with a request and never inspects them, except to keep cached
// responses for different credentials apart.
package credentials

import (
	"context"
	"net/http"
)

// Token identifies which stored credential should authorize a request.
type Token struct {
	name string
	none bool
}

var (
	// DefaultToken selects whatever credential the store considers default.
	DefaultToken = Token{}

	// NoToken marks a request that must be sent unauthenticated.
	NoToken = Token{none: true}
)

// Named returns a token selecting the credential stored under name.
func Named(name string) Token {
	return Token{name: name}
}

// Name returns the credential name, or "" for DefaultToken and NoToken.
func (t Token) Name() string {
	return t.name
}

// IsNone reports whether the token is NoToken.
func (t Token) IsNone() bool {
	return t.none
}

// String returns a stable representation suitable for cache keys and logs.
func (t Token) String() string {
	switch {
	case t.none:
		return "none"
	case t.name == "":
		return "default"
	default:
		return t.name
	}
}

type contextKey int

const tokenKey contextKey = iota

// WithToken returns a copy of ctx tagged with tok.
func WithToken(ctx context.Context, tok Token) context.Context {
	return context.WithValue(ctx, tokenKey, tok)
}

// FromContext returns the token attached to ctx, or DefaultToken.
func FromContext(ctx context.Context) Token {
	tok, _ := Lookup(ctx)
	return tok
}

// Lookup returns the token attached to ctx and whether one was attached at all.
func Lookup(ctx context.Context) (Token, bool) {
	tok, ok := ctx.Value(tokenKey).(Token)
	if !ok {
		return DefaultToken, false
	}
	return tok, true
}

// FromRequest returns the token attached to req's context, or DefaultToken.
func FromRequest(req *http.Request) Token {
	if req == nil {
		return DefaultToken
	}
	return FromContext(req.Context())
}
